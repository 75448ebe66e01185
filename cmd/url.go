package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the resolved tier settings and terms URL without refreshing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s := appInstance.Settings()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "environment: %s\n", s.Environment)
			fmt.Fprintf(out, "tier:        %s\n", s.Tier)
			fmt.Fprintf(out, "database:    %s\n", s.DBTarget)
			fmt.Fprintf(out, "url:         %s\n", s.TermsURL())
			return nil
		},
	}
}
