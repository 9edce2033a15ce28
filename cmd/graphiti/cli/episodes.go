package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/llm"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Store a knowledge episode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			text := strings.Join(args, " ")
			sanitizer, err := app.Sanitizer()
			if err != nil {
				return err
			}
			result := sanitizer.Sanitize(text, "")

			store, err := app.Store()
			if err != nil {
				return err
			}
			now := time.Now()
			if name == "" {
				name = fmt.Sprintf("manual_%s", now.UTC().Format("2006-01-02T15-04-05"))
			}
			handle, err := store.AddEpisode(cmd.Context(), graph.Episode{
				Name:          name,
				Body:          result.Sanitized,
				Source:        "manual",
				GroupID:       app.GroupID,
				ReferenceTime: now,
			})
			if err != nil {
				return err
			}
			return app.emit(handle, func(w io.Writer) {
				fmt.Fprintf(w, "Stored episode %s (%s)\n", handle.Name, handle.UUID)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "episode name (defaults to a timestamp)")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored knowledge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			episodes, err := store.Search(cmd.Context(), strings.Join(args, " "), app.GroupID, limit)
			if err != nil {
				return err
			}
			return app.emit(episodes, func(w io.Writer) {
				writeEpisodeList(w, episodes)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored episodes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			episodes, err := store.List(cmd.Context(), app.GroupID, limit)
			if err != nil {
				return err
			}
			return app.emit(episodes, func(w io.Writer) {
				writeEpisodeList(w, episodes)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			episode, err := store.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.emit(episode, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s\n", episode.UUID, episode.Name)
				fmt.Fprintf(w, "source: %s  group: %s  at: %s\n",
					episode.Source, episode.GroupID,
					episode.ReferenceTime.Local().Format(time.RFC3339))
				fmt.Fprintf(w, "\n%s\n", episode.Body)
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			return app.emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted episode %s\n", args[0])
			})
		},
	}
}

const summarizeEpisodesPrompt = `Summarize the following knowledge episodes into a short
briefing for a developer joining this project. Keep decisions,
architecture, and open problems; drop routine activity.

Episodes:
%s`

func newSummarizeCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "summarize [topic]",
		Short: "Summarize stored knowledge",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			var episodes []graph.Episode
			if len(args) == 1 {
				episodes, err = store.Search(cmd.Context(), args[0], app.GroupID, limit)
			} else {
				episodes, err = store.List(cmd.Context(), app.GroupID, limit)
			}
			if err != nil {
				return err
			}
			if len(episodes) == 0 {
				return app.emit(map[string]any{"summary": "", "episodes": 0}, func(w io.Writer) {
					fmt.Fprintln(w, "Nothing to summarize.")
				})
			}

			var bodies []string
			for _, ep := range episodes {
				bodies = append(bodies, fmt.Sprintf("[%s] %s", ep.Name, ep.Body))
			}
			client, err := app.LLM()
			if err != nil {
				return err
			}
			adapter := graph.NewLLMAdapter(client)
			prompt := fmt.Sprintf(summarizeEpisodesPrompt, strings.Join(bodies, "\n\n"))
			summary, err := adapter.Respond(cmd.Context(), []llm.Message{{Role: "user", Content: prompt}})
			if err != nil {
				return err
			}
			return app.emit(map[string]any{"summary": summary, "episodes": len(episodes)}, func(w io.Writer) {
				fmt.Fprintln(w, summary)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "episodes to include")
	return cmd
}

func newCompactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Recompute embeddings for stored episodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			store, err := app.Store()
			if err != nil {
				return err
			}
			count, err := store.Reembed(cmd.Context(), app.GroupID)
			if err != nil {
				return err
			}
			return app.emit(map[string]int{"reembedded": count}, func(w io.Writer) {
				fmt.Fprintf(w, "Recomputed embeddings for %d episodes\n", count)
			})
		},
	}
}

func writeEpisodeList(w io.Writer, episodes []graph.Episode) {
	if len(episodes) == 0 {
		fmt.Fprintln(w, "No episodes found.")
		return
	}
	for _, ep := range episodes {
		body := ep.Body
		if len(body) > 120 {
			body = body[:120] + "…"
		}
		body = strings.ReplaceAll(body, "\n", " ")
		fmt.Fprintf(w, "%s  %-40s  %s\n", ep.UUID, ep.Name, body)
	}
}
