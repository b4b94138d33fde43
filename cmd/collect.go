package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect member records registered in a date window.",
		Example: `  sro-crawler collect --from 2024-02-01 --to 2024-02-29
  sro-crawler collect --service nopriz --filter region_number=77,78 --output postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := stateFrom(cmd.Context())
			if err != nil {
				return err
			}
			req, err := collectRequest(st.cfg)
			if err != nil {
				return err
			}
			st.logger.Info("collect starting",
				zap.Strings("services", req.Services),
				zap.Stringer("window", req.Window),
				zap.Int("shard", req.Shard),
				zap.Int("shards", req.Shards))

			results, err := st.app.Collect(cmd.Context(), req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, res := range results {
				if encErr := enc.Encode(res); encErr != nil {
					return fmt.Errorf("print result: %w", encErr)
				}
			}
			return err
		},
	}
	addWindowFlags(cmd)
	cmd.Flags().Int("window", 0, "rows fetched concurrently per batch")
	cmd.Flags().Int("shard", 0, "zero-based shard index of this process")
	cmd.Flags().Int("shards", 0, "number of processes splitting the ID list")
	return cmd
}
