package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// DeleteCmd returns the delete command
func DeleteCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a knowledge entry",
		Long:  "Delete a knowledge entry and every chunk derived from it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("id must be a positive integer, got %q", args[0])
			}
			outputFormat, _ := cmd.Flags().GetString("output")

			ctx := context.Background()
			app, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := app.Knowledge.DeleteEntry(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to delete entry %d: %w", id, err)
			}

			if outputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"id": id, "deleted": deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted entry %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}
