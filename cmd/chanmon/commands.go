package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/wire"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/urfave/cli"
)

var listMonitorsCommand = cli.Command{
	Name:     "listmonitors",
	Category: "Monitors",
	Usage:    "List all persisted channel monitors.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "active_only",
			Usage: "only list monitors that aren't resolved",
		},
	},
	Action: listMonitors,
}

// monitorSummary condenses the update log of a monitor.
type monitorSummary struct {
	localHeight  uint64
	remoteHeight uint64
	revocations  int
	preimages    int
	forceClosed  bool
}

// summarize walks the updates of a record.
func summarize(record *channeldb.MonitorRecord) monitorSummary {
	var s monitorSummary
	for _, update := range record.Updates {
		update.LocalCommitment.WhenSome(
			func(c channeldb.CommitmentUpdate) {
				s.localHeight = c.Commitment.CommitHeight
			},
		)
		update.RemoteCommitment.WhenSome(
			func(c channeldb.CommitmentUpdate) {
				s.remoteHeight = c.Commitment.CommitHeight
			},
		)
		update.CommitmentSecret.WhenSome(
			func(channeldb.CommitmentSecret) {
				s.revocations++
			},
		)
		update.ForceClose.WhenSome(func(channeldb.ForceClose) {
			s.forceClosed = true
		})
		s.preimages += len(update.Preimages)
	}

	return s
}

func listMonitors(ctx *cli.Context) error {
	store, cleanUp, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	records, err := store.FetchAllMonitors()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{
		"Channel Point", "Capacity", "Initiator", "Updates",
		"Local Height", "Remote Height", "Force Closed", "Resolved",
	})

	activeOnly := ctx.Bool("active_only")
	for _, record := range records {
		if activeOnly && record.Resolved {
			continue
		}

		s := summarize(record)
		t.AppendRow(table.Row{
			record.Params.ChanPoint, record.Params.Capacity,
			record.Params.IsInitiator, len(record.Updates),
			s.localHeight, s.remoteHeight, s.forceClosed,
			record.Resolved,
		})
	}
	t.Render()

	return nil
}

var showMonitorCommand = cli.Command{
	Name:      "showmonitor",
	Category:  "Monitors",
	Usage:     "Show the update log of a channel monitor.",
	ArgsUsage: "chan_point",
	Description: `
	Print the static parameters of the channel and every update applied to
	its monitor, in order.`,
	Action: showMonitor,
}

func showMonitor(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "showmonitor")
	}

	chanPoint, err := wire.NewOutPointFromString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid channel point: %w", err)
	}

	store, cleanUp, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	record, err := store.FetchMonitor(*chanPoint)
	if err != nil {
		return err
	}

	params := record.Params
	s := summarize(record)

	fmt.Printf("channel_point:    %v\n", params.ChanPoint)
	fmt.Printf("capacity:         %v\n", params.Capacity)
	fmt.Printf("initiator:        %v\n", params.IsInitiator)
	fmt.Printf("csv_delay:        %v/%v\n", params.LocalChanCfg.CsvDelay,
		params.RemoteChanCfg.CsvDelay)
	fmt.Printf("revocations:      %v\n", s.revocations)
	fmt.Printf("preimages:        %v\n", s.preimages)
	fmt.Printf("resolved:         %v\n", record.Resolved)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Update ID", "Content"})
	for _, update := range record.Updates {
		t.AppendRow(table.Row{update.UpdateID, update.String()})
	}
	t.Render()

	return nil
}
