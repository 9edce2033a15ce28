package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/indexer"
)

// healthReport is the health command's output.
type healthReport struct {
	Scope           string `json:"scope"`
	LocalReachable  bool   `json:"local_reachable"`
	CloudConfigured bool   `json:"cloud_configured"`
	CloudCooldown   string `json:"cloud_cooldown_until,omitempty"`
	Episodes        int    `json:"episodes"`
	JobsPending     int    `json:"jobs_pending"`
	DeadLetters     int    `json:"dead_letters"`
	LLMQueued       int    `json:"llm_queued"`
	LastIndexedSHA  string `json:"last_indexed_sha,omitempty"`
	IndexedCommits  int    `json:"indexed_commits"`
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report component health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			report := healthReport{
				Scope:           app.Scope.String(),
				LocalReachable:  localReachable(app.Config.Local.Endpoint),
				CloudConfigured: app.Config.Cloud.APIKey != "",
			}

			state, err := app.LLMState()
			if err != nil {
				return err
			}
			if deadline := state.CooldownDeadline(); time.Now().Before(deadline) {
				report.CloudCooldown = deadline.UTC().Format(time.RFC3339)
			}

			store, err := app.Store()
			if err != nil {
				return err
			}
			if report.Episodes, err = store.Count(cmd.Context(), app.GroupID); err != nil {
				return err
			}

			jobs, err := app.Jobs()
			if err != nil {
				return err
			}
			if report.JobsPending, err = jobs.PendingCount(); err != nil {
				return err
			}
			dead, err := jobs.DeadLetters()
			if err != nil {
				return err
			}
			report.DeadLetters = len(dead)

			llmQueue, err := app.LLMQueue()
			if err != nil {
				return err
			}
			if report.LLMQueued, err = llmQueue.Len(); err != nil {
				return err
			}

			indexState := indexer.LoadState(app.IndexStatePath())
			report.LastIndexedSHA = indexState.LastIndexedSHA
			report.IndexedCommits = indexState.IndexedCommitsCount

			return app.emit(report, func(w io.Writer) {
				fmt.Fprintf(w, "Scope:            %s\n", report.Scope)
				fmt.Fprintf(w, "Local endpoint:   %s\n", yesNo(report.LocalReachable, "reachable", "unreachable"))
				fmt.Fprintf(w, "Cloud endpoint:   %s\n", yesNo(report.CloudConfigured, "configured", "no API key"))
				if report.CloudCooldown != "" {
					fmt.Fprintf(w, "Cloud cooldown:   until %s\n", report.CloudCooldown)
				}
				fmt.Fprintf(w, "Episodes:         %d\n", report.Episodes)
				fmt.Fprintf(w, "Jobs pending:     %d (%d dead)\n", report.JobsPending, report.DeadLetters)
				fmt.Fprintf(w, "LLM queue:        %d\n", report.LLMQueued)
				if report.LastIndexedSHA != "" {
					fmt.Fprintf(w, "Index cursor:     %s (%d commits)\n",
						report.LastIndexedSHA, report.IndexedCommits)
				}
			})
		},
	}
}

// localReachable probes the local endpoint's model listing with a short
// timeout; health must answer quickly even when nothing is running.
func localReachable(endpoint string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(strings.TrimRight(endpoint, "/") + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func yesNo(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
