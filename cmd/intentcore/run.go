package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/events"
)

// RunCmd processes a single natural-language command.
func RunCmd() *cobra.Command {
	var (
		backend string
		stream  bool
	)

	cmd := &cobra.Command{
		Use:   "run <command...>",
		Short: "Process one intent and print the resulting task",
		Long: `Parse a natural-language command into an action invocation, dispatch it
and print the task as JSON. A JSON invocation such as
'{"action":"system.echo","parameters":{"x":1}}' skips the model.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pref, err := ai.ParsePreference(backend, "")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcCtx, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer shutdown(svcCtx)

			out := cmd.OutOrStdout()
			if stream {
				sub := svcCtx.Bus.On(events.KindData, func(_ context.Context, evt events.Event) error {
					if m, ok := evt.Payload.(map[string]any); ok {
						if text, ok := m["text"].(string); ok {
							fmt.Fprint(cmd.ErrOrStderr(), text)
						}
					}
					return nil
				})
				defer svcCtx.Bus.Off(sub)
			}

			task, err := svcCtx.Orchestrator.ProcessIntent(ctx, strings.Join(args, " "), pref)
			if stream {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			if task == nil {
				return fmt.Errorf("could not resolve an action for %q", strings.Join(args, " "))
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(task.DTO())
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "", "model backend: local or cloud (default from config)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print streamed data events to stderr")
	return cmd
}
