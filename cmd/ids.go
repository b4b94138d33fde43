package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Print the member IDs registered in a date window, one per line.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			req, err := collectRequest(st.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, service := range req.Services {
				ids, err := st.app.IDs(cmd.Context(), req, service)
				if err != nil {
					return fmt.Errorf("%s: %w", service, err)
				}
				for _, id := range ids {
					if _, err := fmt.Fprintf(out, "%s\t%d\n", service, id); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	addWindowFlags(cmd)
	return cmd
}
