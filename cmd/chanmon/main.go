package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/chancore"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/lncfg"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[chanmon] %v\n", err)
	os.Exit(1)
}

// openStore opens the channel database selected by the global flags.
func openStore(ctx *cli.Context) (*channeldb.MonitorStore, func(), error) {
	dbDir := ctx.GlobalString("dbdir")
	if dbDir == "" {
		dbDir = filepath.Join(
			ctx.GlobalString("datadir"), ctx.GlobalString("network"),
		)
	}

	dbCfg := lncfg.DefaultDB()
	dbCfg.Dir = dbDir
	dbCfg.Timeout = ctx.GlobalDuration("timeout")
	if err := dbCfg.Validate(); err != nil {
		return nil, nil, err
	}

	db, err := dbCfg.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open channel db: %w", err)
	}

	cleanUp := func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "unable to close db: %v\n", err)
		}
	}

	return channeldb.NewMonitorStore(db), cleanUp, nil
}

func main() {
	defaults := chancore.DefaultConfig()

	app := cli.NewApp()
	app.Name = "chanmon"
	app.Usage = "inspect the persisted channel monitors of chancore"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "datadir",
			Value:     defaults.DataDir,
			Usage:     "the directory holding the per network databases",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "network, n",
			Value: defaults.Network,
			Usage: "the network the channels live on (mainnet, " +
				"testnet, regtest, simnet, signet)",
		},
		cli.StringFlag{
			Name: "dbdir",
			Usage: "the directory of channel.db, overrides " +
				"datadir and network",
			TakesFile: true,
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: lncfg.DefaultDBTimeout,
			Usage: "the time to wait for the database file lock",
		},
	}
	app.Commands = []cli.Command{
		listMonitorsCommand,
		showMonitorCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
