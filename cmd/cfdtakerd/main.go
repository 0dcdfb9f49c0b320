// cfdtakerd runs the taker side of the CFD protocol core: it dials a
// configured maker, takes orders, and drives settlement/rollover (spec
// §6 "operator surface"). Grounded on lnd.go's main/lndMain split.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/cfdwire"
	"github.com/cfdlabs/cfd-core/daemon"
)

func main() {
	if err := takerMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func takerMain() error {
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
	}, false)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	if cfg.MakerAddr == "" {
		return cfderr.Newf(cfderr.KindConfiguration, "makeraddr is required")
	}

	staticKey, err := cfdwire.GenerateStaticKeypair()
	if err != nil {
		return err
	}

	makerPubHex := os.Getenv("CFD_MAKER_PUBKEY")
	if makerPubHex == "" {
		return cfderr.Newf(cfderr.KindConfiguration, "CFD_MAKER_PUBKEY is required")
	}
	makerPub, err := hex.DecodeString(makerPubHex)
	if err != nil {
		return cfderr.New(cfderr.KindConfiguration, err)
	}

	conn, err := cfdwire.DialMaker(cfg.MakerAddr, staticKey, makerPub)
	if err != nil {
		return err
	}
	d.Actor.RegisterPeer(conn.String(), conn)

	select {}
}
