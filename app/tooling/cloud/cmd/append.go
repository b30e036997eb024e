package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var appendCmd = &cobra.Command{
	Use:   "append <operation>",
	Short: "Encrypt and sign an operation as the next mutation",
	Args:  cobra.MinimumNArgs(1),
	RunE:  appendRun,
}

func init() {
	rootCmd.AddCommand(appendCmd)
}

func appendRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	m, err := c.journal.AppendLocal(cmd.Context(), []byte(strings.Join(args, " ")))
	if err != nil {
		return err
	}

	ok(cmd, "mutation[%d] appended: %s", m.Index, m.Digest())
	hint(cmd, "run 'cloud push' to send it to the node")

	return nil
}
