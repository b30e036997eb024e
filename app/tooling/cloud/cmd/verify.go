package cmd

import (
	"errors"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/spf13/cobra"
)

var verifyCloudID string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the node's copy of a cloud without any secret",
	RunE:  verifyRun,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVarP(&verifyCloudID, "id", "i", "", "Cloud id to verify instead of the named cloud.")
}

func verifyRun(cmd *cobra.Command, args []string) error {
	var cloudID identity.CloudID

	switch verifyCloudID {
	case "":
		p, err := loadProfile(profilePath())
		if err != nil {
			return err
		}
		if cloudID, err = identity.ToCloudID(p.CloudID); err != nil {
			return err
		}

	default:
		var err error
		if cloudID, err = identity.ToCloudID(verifyCloudID); err != nil {
			return err
		}
	}

	mutations, err := nodeMutations(cmd.Context(), cloudID)
	if err != nil {
		return err
	}

	n, err := journal.VerifyChain(cloudID, mutations)
	if err != nil {
		warn(cmd, "%d of %d mutations verify", n, len(mutations))
		return err
	}

	if len(mutations) == 0 {
		return errors.New("the node holds no mutations for this cloud")
	}

	ok(cmd, "%d mutations verify, tail %s", n, mutations[n-1].Digest())

	return nil
}
