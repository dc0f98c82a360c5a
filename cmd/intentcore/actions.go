package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neboloop/intentcore/internal/orchestrator"
	"github.com/neboloop/intentcore/internal/svc"
)

// ActionsCmd lists the registered actions.
func ActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List registered actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := bootstrap(context.Background(), svc.WithoutStore())
			if err != nil {
				return err
			}
			defer shutdown(svcCtx)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tDESCRIPTION")
			for _, d := range svcCtx.Registry.Describe() {
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
			}
			fmt.Fprintf(w, "%s\t%s\n", orchestrator.OpenApp, "Launch an external app; resolved by the host")
			return w.Flush()
		},
	}
}
