// cfdcli is the operator's read-only inspection tool for a maker or
// taker's repository: listing offers and contracts and showing one
// contract's current state (spec §6 "operator surface": "An
// HTTP/SSE server (out of scope) and CLI"). Live operator actions
// (publish offer, accept/reject order, propose settlement, propose
// rollover) are issued against a running daemon process over a
// transport spec §1 explicitly leaves out of scope ("CLI wiring");
// this tool covers the inspection half, which only needs read access
// to the same repository the daemon writes to.
//
// Grounded on cmd/lncli/{main.go,commands.go}'s urfave/cli app shape:
// one global --datadir flag, one subcommand per read path.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cfdlabs/cfd-core/cfddb"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/google/uuid"
	"github.com/urfave/cli"
)

func parseOfferID(s string) (contractcourt.OfferID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return contractcourt.OfferID{}, err
	}
	return contractcourt.OfferID(id), nil
}

func main() {
	app := cli.NewApp()
	app.Name = "cfdcli"
	app.Usage = "inspect a cfdmakerd/cfdtakerd repository"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory the daemon was started with",
			Value: "data",
		},
	}
	app.Commands = []cli.Command{
		offersCommand,
		contractsCommand,
		showCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRepo(c *cli.Context) (*cfddb.DB, error) {
	return cfddb.Open(c.GlobalString("datadir"))
}

var offersCommand = cli.Command{
	Name:  "offers",
	Usage: "list the offer behind every contract",
	Action: func(c *cli.Context) error {
		db, err := openRepo(c)
		if err != nil {
			return err
		}
		defer db.Close()

		contracts, err := db.LoadAllContracts(context.Background())
		if err != nil {
			return err
		}
		for _, contract := range contracts {
			fmt.Printf("%s\t%s\t%s\t%s\n", contract.Offer.ID, contract.Offer.TradingPair,
				contract.Offer.Position, contract.Offer.Price)
		}
		return nil
	},
}

var contractsCommand = cli.Command{
	Name:  "contracts",
	Usage: "list every contract and its current state",
	Action: func(c *cli.Context) error {
		db, err := openRepo(c)
		if err != nil {
			return err
		}
		defer db.Close()

		contracts, err := db.LoadAllContracts(context.Background())
		if err != nil {
			return err
		}
		for _, contract := range contracts {
			fmt.Printf("%s\t%s\t%s\n", contract.ID(), contract.Quantity, contract.Current.Kind)
		}
		return nil
	},
}

var showCommand = cli.Command{
	Name:      "show",
	Usage:     "show one contract's current state in full",
	ArgsUsage: "<offer-id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: cfdcli show <offer-id>", 1)
		}

		db, err := openRepo(c)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := parseOfferID(c.Args().Get(0))
		if err != nil {
			return err
		}

		contract, err := db.LoadContract(context.Background(), id)
		if err != nil {
			return err
		}
		fmt.Printf("offer:    %s\n", contract.Offer.ID)
		fmt.Printf("pair:     %s\n", contract.Offer.TradingPair)
		fmt.Printf("position: %s\n", contract.Offer.Position)
		fmt.Printf("quantity: %s\n", contract.Quantity)
		fmt.Printf("state:    %s\n", contract.Current.Kind)
		if contract.Current.Reason != "" {
			fmt.Printf("reason:   %s\n", contract.Current.Reason)
		}
		return nil
	},
}
