package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/output"
)

var snapshotLayer string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record and inspect historical layer progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotListRun()
	},
}

var snapshotRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the current progress of every layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotRecordRun()
	},
}

var snapshotListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "trend"},
	Short:   "Show the daily progress trend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotListRun()
	},
}

func init() {
	snapshotListCmd.Flags().StringVar(&snapshotLayer, "layer", "", "Only show one layer")

	snapshotCmd.AddCommand(snapshotRecordCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func snapshotRecordRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would record a progress snapshot for %d layers", len(models.Layers))
		return nil
	}

	snaps, err := dashboard.New(s).RecordProgress(context.Background())
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		ui.VerboseLog("%s: %d%%", snap.Layer, snap.Progress)
	}
	ui.Success("Recorded %d layer snapshots", len(snaps))
	return nil
}

func snapshotListRun() error {
	layers := models.Layers
	var filter models.Layer
	if snapshotLayer != "" {
		l, err := models.ParseLayer(snapshotLayer)
		if err != nil {
			return err
		}
		filter = l
		layers = []models.Layer{l}
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	snaps, err := s.ListSnapshots(context.Background(), filter)
	if err != nil {
		return err
	}
	trend := metrics.ProgressTrend(snaps)
	if len(trend) == 0 {
		ui.Info("No snapshots recorded. Use 'tamv snapshot record' to take one.")
		return nil
	}

	headers := []string{"DATE"}
	for _, l := range layers {
		headers = append(headers, string(l))
	}
	table := ui.Table(headers)
	for _, pt := range trend {
		row := []string{pt.Date}
		for _, l := range layers {
			if p, ok := pt.Layers[l]; ok {
				row = append(row, output.ProgressColor(p))
			} else {
				row = append(row, "-")
			}
		}
		_ = table.Append(row)
	}
	_ = table.Render()
	fmt.Fprintln(ui.Out)
	return nil
}
