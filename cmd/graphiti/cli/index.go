package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/graph"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/indexer"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		since string
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index repository history into the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.ProjectRoot == "" {
				return fmt.Errorf("index requires a git repository")
			}
			store, err := app.Store()
			if err != nil {
				return err
			}
			client, err := app.LLM()
			if err != nil {
				return err
			}

			ix := indexer.New(app.ProjectRoot, app.IndexStatePath(), store,
				graph.NewLLMAdapter(client), app.GroupID)
			result, err := ix.Run(cmd.Context(), indexer.Options{Since: since, Full: full})
			if err != nil {
				return err
			}
			return app.emit(result, func(w io.Writer) {
				if result.SkippedReason != "" {
					fmt.Fprintf(w, "Skipped: %s\n", result.SkippedReason)
					return
				}
				fmt.Fprintf(w, "Indexed %d commits, skipped %d\n", result.Indexed, result.Skipped)
				if result.DeletedEpisodes > 0 {
					fmt.Fprintf(w, "Removed %d previously indexed episodes\n", result.DeletedEpisodes)
				}
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "index from a date (2024-01-02) or SHA")
	cmd.Flags().BoolVar(&full, "full", false, "re-index everything from scratch")
	return cmd
}
