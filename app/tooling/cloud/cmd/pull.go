package cmd

import (
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
	"github.com/ardanlabs/encloud/foundation/cloud/transport"
	"github.com/spf13/cobra"
)

var privateHost string

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Sync the local journal from the node over a sync session",
	RunE:  pullRun,
}

func init() {
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().StringVarP(&privateHost, "node", "n", "localhost:9080", "Host of the node's private api.")
}

// owned serves the journal of the one cloud opened by the command.
type owned struct {
	j *journal.Journal
}

func (o owned) Journal(cloudID identity.CloudID) (*journal.Journal, error) {
	if cloudID != o.j.CloudID() {
		return nil, fmt.Errorf("cloud %s is not held by this device", cloudID.Short())
	}
	return o.j, nil
}

func pullRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	ctx := cmd.Context()

	conn, err := transport.Dial(ctx, fmt.Sprintf("ws://%s/v1/node/sync", privateHost), nil, syncer.MaxFrameSize)
	if err != nil {
		return err
	}

	s := syncer.New(syncer.Config{
		Journals:  owned{j: c.journal},
		EvHandler: syncer.EventHandler(evHandler(cmd)),
	})

	session := s.NewSession(conn)
	go session.Run(ctx)

	defer func() {
		session.Close()
		<-session.Done()
	}()

	report, err := s.Pull(ctx, session, c.journal.CloudID(), privateHost)
	if err != nil {
		return err
	}

	if report.Halted {
		warn(cmd, "node offering halted: %s", report.HaltedBy)
	}

	ok(cmd, "accepted %d, duplicates %d, length %d", report.Accepted, report.Duplicates, report.Final.Length)

	return nil
}
