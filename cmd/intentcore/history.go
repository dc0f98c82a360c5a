package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// HistoryCmd inspects the persisted chat conversations.
func HistoryCmd() *cobra.Command {
	var (
		limit int
		del   bool
	)

	cmd := &cobra.Command{
		Use:   "history [key]",
		Short: "List conversations or show one conversation's turns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svcCtx, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(svcCtx)

			st := svcCtx.Store
			if st == nil {
				return errors.New("conversation store is not available")
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				convs, err := st.Conversations(ctx)
				if err != nil {
					return err
				}
				if len(convs) == 0 {
					fmt.Fprintln(out, "No conversations.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tTURNS\tUPDATED")
				for _, c := range convs {
					fmt.Fprintf(w, "%s\t%d\t%s\n", c.Key, c.Turns, c.UpdatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			}

			key := args[0]
			if del {
				if err := st.Delete(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted conversation %q\n", key)
				return nil
			}

			msgs, err := st.Recent(ctx, key, limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the most recent N turns")
	cmd.Flags().BoolVar(&del, "delete", false, "delete the conversation")
	return cmd
}
