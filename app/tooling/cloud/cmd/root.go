// Package cmd contains the cloud app.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/disk"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cloudName   string
	cloudFolder string
	nodeURL     string
	verbose     bool
)

// fs is where the clouds of this device are kept.
var fs = afero.NewOsFs()

func init() {
	rootCmd.PersistentFlags().StringVarP(&cloudName, "cloud", "c", "notes", "Name of the cloud.")
	rootCmd.PersistentFlags().StringVarP(&cloudFolder, "cloud-path", "p", "zcloud/clouds/", "Path to the directory with the cloud secrets.")
	rootCmd.PersistentFlags().StringVarP(&nodeURL, "url", "u", "http://localhost:8080", "Url of the node.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show the journal events.")
}

var rootCmd = &cobra.Command{
	Use:           "cloud",
	Short:         "Manage the encrypted change log of your clouds",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command selected by the arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗"), err)
		os.Exit(1)
	}
}

// =============================================================================

func secretPath() string {
	return filepath.Join(cloudFolder, cloudName+keyring.Ext)
}

func profilePath() string {
	return filepath.Join(cloudFolder, cloudName+".yaml")
}

func journalPath() string {
	return filepath.Join(cloudFolder, cloudName+".journal")
}

func checkpointPath() string {
	return filepath.Join(cloudFolder, cloudName+".replay")
}

// cloud is an owned cloud opened from this device's files.
type cloud struct {
	profile profile
	root    identity.RootSecret
	journal *journal.Journal
}

// openCloud loads the root secret and opens the local journal of the cloud.
func openCloud(cmd *cobra.Command) (cloud, error) {
	rs, err := identity.LoadRootSecret(secretPath())
	if err != nil {
		return cloud{}, fmt.Errorf("loading cloud %q: %w", cloudName, err)
	}

	p, err := loadProfile(profilePath())
	if err != nil {
		return cloud{}, err
	}

	storage, err := disk.New(fs, journalPath())
	if err != nil {
		return cloud{}, fmt.Errorf("opening journal: %w", err)
	}

	j, err := journal.New(journal.Config{
		Root:      &rs,
		Storage:   storage,
		EvHandler: evHandler(cmd),
	})
	if err != nil {
		return cloud{}, err
	}

	return cloud{profile: p, root: rs, journal: j}, nil
}

// evHandler prints the journal events when running verbose.
func evHandler(cmd *cobra.Command) func(v string, args ...any) {
	if !verbose {
		return nil
	}

	return func(v string, args ...any) {
		fmt.Fprintln(cmd.ErrOrStderr(), color.HiBlackString(v, args...))
	}
}

func ok(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func warn(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("!"), fmt.Sprintf(format, args...))
}

func hint(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("→"), fmt.Sprintf(format, args...))
}
