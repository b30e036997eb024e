package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Decrypt and show the operations of the cloud",
	RunE:  logRun,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

func logRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	out := cmd.OutOrStdout()

	for from := uint64(0); from < c.journal.Length(); {
		page, err := c.journal.Range(from, 256)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			payload, err := c.journal.Open(m)
			if err != nil {
				return fmt.Errorf("mutation[%d]: %w", m.Index, err)
			}

			var disclosed string
			if m.DisclosedKey != nil {
				disclosed = color.YellowString(" (disclosed)")
			}

			fmt.Fprintf(out, "%s %s%s %s\n", color.CyanString("%6d", m.Index), color.HiBlackString(m.Digest().String()[:10]), disclosed, payload)
		}

		from += uint64(len(page))
	}

	return nil
}
