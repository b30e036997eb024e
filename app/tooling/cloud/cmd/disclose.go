package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/spf13/cobra"
)

var disclosePush bool

var discloseCmd = &cobra.Command{
	Use:   "disclose <index>",
	Short: "Attach the key of one mutation so anyone can read it",
	Args:  cobra.ExactArgs(1),
	RunE:  discloseRun,
}

func init() {
	rootCmd.AddCommand(discloseCmd)
	discloseCmd.Flags().BoolVar(&disclosePush, "push", false, "Send the disclosed mutation to the node.")
}

func discloseRun(cmd *cobra.Command, args []string) error {
	index, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	m, err := c.journal.Disclose(index)
	if err != nil {
		return err
	}

	payload, err := m.OpenDisclosed()
	if err != nil {
		return err
	}

	ok(cmd, "mutation[%d] disclosed: %s", m.Index, payload)

	if !disclosePush {
		hint(cmd, "run with --push to publish the key through the node")
		return nil
	}

	if _, err := send(cmd.Context(), http.MethodPost, cloudURL(c.journal.CloudID(), "/mutations"), []journal.Mutation{m}, nil); err != nil {
		return err
	}

	ok(cmd, "disclosure sent to %s", nodeURL)

	return nil
}
