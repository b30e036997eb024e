package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Show the identity and local status of the cloud",
	RunE:  idRun,
}

func init() {
	rootCmd.AddCommand(idCmd)
}

func idRun(cmd *cobra.Command, args []string) error {
	c, err := openCloud(cmd)
	if err != nil {
		return err
	}
	defer c.journal.Close()

	st := c.journal.Status()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name:        %s\n", c.profile.Name)
	if c.profile.Description != "" {
		fmt.Fprintf(out, "description: %s\n", c.profile.Description)
	}
	fmt.Fprintf(out, "cloud id:    %s\n", c.journal.CloudID())
	fmt.Fprintf(out, "created at:  %s\n", c.profile.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "length:      %d\n", st.Length)
	fmt.Fprintf(out, "tail:        %s\n", st.TailDigest)
	fmt.Fprintf(out, "state:       %s\n", st.State)

	return nil
}
