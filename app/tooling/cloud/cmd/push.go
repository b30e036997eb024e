package cmd

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Send the mutations the node is missing",
	RunE:  pushRun,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func pushRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	ctx := cmd.Context()
	cloudID := c.journal.CloudID()

	remote, err := nodeStatus(ctx, cloudID)
	if err != nil {
		return err
	}

	if remote.Length > 0 {
		local, err := c.journal.Digest(uint64(remote.TailIndex))
		if err != nil || local != remote.TailDigest {
			return fmt.Errorf("node tail[%d] %s is not in the local journal, run 'cloud pull' first", remote.TailIndex, remote.TailDigest)
		}
	}

	var pushed int
	for from := remote.Length; from < c.journal.Length(); {
		page, err := c.journal.Range(from, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		var resp struct {
			Report journal.BatchReport `json:"report"`
		}
		status, err := send(ctx, http.MethodPost, cloudURL(cloudID, "/mutations"), page, &resp)
		if err != nil {
			return err
		}
		if status == http.StatusNotAcceptable {
			return fmt.Errorf("node halted the batch at mutation[%d]: %s", from, resp.Report.HaltedBy)
		}

		pushed += resp.Report.Accepted
		from += uint64(len(page))
	}

	if pushed == 0 {
		ok(cmd, "node is up to date at length %d", remote.Length)
		return nil
	}

	ok(cmd, "pushed %d mutations", pushed)

	return nil
}
