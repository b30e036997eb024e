package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var description string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the root secret of a new cloud",
	RunE:  generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVarP(&description, "description", "d", "", "Description of the cloud.")
}

func generateRun(cmd *cobra.Command, args []string) error {
	if exists, _ := afero.Exists(fs, secretPath()); exists {
		return fmt.Errorf("cloud %q already exists at %s", cloudName, secretPath())
	}

	if err := fs.MkdirAll(cloudFolder, 0700); err != nil {
		return err
	}

	rs, err := identity.NewRootSecret()
	if err != nil {
		return err
	}

	id, err := identity.Derive(rs)
	if err != nil {
		return err
	}

	if err := identity.SaveRootSecret(secretPath(), rs); err != nil {
		return err
	}

	p := profile{
		Name:        cloudName,
		Description: description,
		CloudID:     id.CloudID.String(),
		CreatedAt:   time.Now().UTC(),
	}

	if err := saveProfile(profilePath(), p); err != nil {
		return err
	}

	ok(cmd, "cloud %q created: %s", cloudName, id.CloudID)
	hint(cmd, "keep %s safe, it is the only way to read or extend the cloud", secretPath())

	return nil
}
