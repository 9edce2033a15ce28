package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
)

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and process the retry queues",
	}
	cmd.AddCommand(newQueueStatusCmd(opts))
	cmd.AddCommand(newQueueProcessCmd(opts))
	cmd.AddCommand(newQueueRetryCmd(opts))
	return cmd
}

func newQueueStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report job and retry queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			jobs, err := app.Jobs()
			if err != nil {
				return err
			}
			pending, err := jobs.PendingCount()
			if err != nil {
				return err
			}
			dead, err := jobs.DeadLetters()
			if err != nil {
				return err
			}
			llmQueue, err := app.LLMQueue()
			if err != nil {
				return err
			}
			llmDepth, err := llmQueue.Len()
			if err != nil {
				return err
			}

			status := map[string]any{
				"jobs_pending": pending,
				"dead_letters": len(dead),
				"llm_queued":   llmDepth,
			}
			return app.emit(status, func(w io.Writer) {
				fmt.Fprintf(w, "Jobs pending:        %d\n", pending)
				fmt.Fprintf(w, "Dead-lettered jobs:  %d\n", len(dead))
				fmt.Fprintf(w, "Queued LLM requests: %d\n", llmDepth)
				for _, d := range dead {
					fmt.Fprintf(w, "  dead: %s %s (%d attempts): %s\n",
						d.ID, d.Type, d.RetryCount, d.FinalError)
				}
			})
		},
	}
}

func newQueueProcessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Replay queued LLM requests and run pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			llmQueue, err := app.LLMQueue()
			if err != nil {
				return err
			}
			state, err := app.LLMState()
			if err != nil {
				return err
			}
			// The replay client carries no queue: a request that fails
			// again stays in this queue instead of re-enqueueing itself.
			replay := llm.NewClient(app.Config, state, nil)
			result, err := llmQueue.Drain(replayProcessor(cmd, replay))
			if err != nil {
				return err
			}

			if err := app.runJobs(cmd.Context()); err != nil {
				return err
			}
			return app.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "Replayed %d requests (%d requeued, %d expired)\n",
					result.Processed, result.Requeued, result.Expired)
			})
		},
	}
}

// replayProcessor reissues a queued request through the live transport.
// The original caller is long gone, so responses are dropped; replay
// exists to land the request, not to deliver its answer.
func replayProcessor(cmd *cobra.Command, client *llm.Client) llm.Processor {
	return func(operation string, params json.RawMessage) error {
		ctx := cmd.Context()
		switch operation {
		case llm.OpChat:
			var p llm.ChatParams
			if err := json.Unmarshal(params, &p); err != nil {
				return fmt.Errorf("decoding chat params: %w", err)
			}
			_, err := client.Chat(ctx, p.Messages, llm.ChatOptions{Model: p.Model, Format: p.Format})
			return err
		case llm.OpGenerate:
			var p llm.GenerateParams
			if err := json.Unmarshal(params, &p); err != nil {
				return fmt.Errorf("decoding generate params: %w", err)
			}
			_, err := client.Generate(ctx, p.Prompt, llm.ChatOptions{Model: p.Model})
			return err
		case llm.OpEmbed:
			var p llm.EmbedParams
			if err := json.Unmarshal(params, &p); err != nil {
				return fmt.Errorf("decoding embed params: %w", err)
			}
			_, err := client.Embed(ctx, p.Input)
			return err
		default:
			return fmt.Errorf("unknown queued operation %q", operation)
		}
	}
}

func newQueueRetryCmd(opts *rootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Move dead-lettered jobs back into the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			jobs, err := app.Jobs()
			if err != nil {
				return err
			}
			count, err := jobs.RetryDeadLetter(id)
			if err != nil {
				return err
			}
			return app.emit(map[string]int{"requeued": count}, func(w io.Writer) {
				fmt.Fprintf(w, "Requeued %d dead-lettered jobs\n", count)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "retry one dead letter by id (default: all)")
	return cmd
}
