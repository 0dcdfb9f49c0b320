// cfdmakerd runs the maker side of the CFD protocol core: it listens
// for incoming taker connections, publishes offers, and accepts or
// rejects orders (spec §6 "operator surface"). Grounded on lnd.go's
// main/lndMain split.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/cfdlabs/cfd-core/cfdwire"
	"github.com/cfdlabs/cfd-core/daemon"
)

func main() {
	if err := makerMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func makerMain() error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if err := daemon.InitLogging(cfg.LogFilePath(), cfg.DebugLevel); err != nil {
		return err
	}
	defer daemon.StopLogging()

	d, err := daemon.New(cfg, daemon.Deps{
		Wallet:   daemon.NullWallet{},
		ChainSrc: daemon.NullChainSource{},
	}, true)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	staticKey, err := cfdwire.GenerateStaticKeypair()
	if err != nil {
		return err
	}

	listenAddr := cfg.PeerListenAddr
	if listenAddr == "" {
		listenAddr = ":10555"
	}
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			conn, err := cfdwire.AcceptTaker(netConn, staticKey)
			if err != nil {
				return
			}
			d.Actor.RegisterPeer(conn.String(), conn)
		}()
	}
}
