package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/ardanlabs/encloud/foundation/cloud/replay"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print the operations not replayed yet and remember the progress",
	RunE:  replayRun,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

// printer is a replay store writing each operation as a line.
type printer struct {
	w io.Writer
}

func (p printer) Apply(ctx context.Context, payload []byte, index uint64) error {
	_, err := fmt.Fprintf(p.w, "%s %s\n", color.CyanString("%6d", index), payload)
	return err
}

func replayRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	checkpoint, err := replay.NewFileCheckpoint(fs, checkpointPath())
	if err != nil {
		return err
	}

	r := replay.New(replay.Config{
		Checkpoint: checkpoint,
		EvHandler:  evHandler(cmd),
	})

	result, err := r.Run(cmd.Context(), c.journal, printer{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}

	ok(cmd, "replayed %d operations, next %d", result.Applied, result.Next)

	return nil
}
