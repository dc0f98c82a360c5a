package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// FailuresCmd prints the persisted task failure log.
func FailuresCmd() *cobra.Command {
	var (
		limit int
		stack bool
	)

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Show recent failed tasks and handler panics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svcCtx, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(svcCtx)

			if svcCtx.Store == nil {
				return errors.New("failure log is not available")
			}
			logs, err := svcCtx.Store.ErrorLogs(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, "No failures recorded.")
				return nil
			}
			for _, l := range logs {
				fmt.Fprintf(out, "%s [%s] %s: %s", l.CreatedAt.Local().Format(time.DateTime), l.Level, l.Module, l.Message)
				if id := l.Context["task_id"]; id != "" {
					fmt.Fprintf(out, " (task %s)", id)
				}
				fmt.Fprintln(out)
				if stack && l.Stacktrace != "" {
					fmt.Fprintln(out, l.Stacktrace)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&stack, "stack", false, "include panic stack traces")
	return cmd
}
