package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/jobqueue"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/paths"
)

// TranscriptPathEnvVar is set by the assistant's Stop hook to point at
// the session transcript.
const TranscriptPathEnvVar = "CLAUDE_TRANSCRIPT_PATH"

func newCaptureCmd(opts *rootOptions) *cobra.Command {
	var (
		auto           bool
		transcriptPath string
		sessionID      string
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture pending commits and the session transcript",
		Long: "Capture drains the pending-commits file and, when a transcript is\n" +
			"available, the assistant conversation. Work is queued and processed\n" +
			"before the command returns.",
		Args: cobra.NoArgs,
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

			var queued []string
			if app.ProjectRoot != "" {
				pendingPath, err := paths.PendingCommitsPath()
				if err != nil {
					return err
				}
				_, err = jobs.Enqueue(jobqueue.JobCaptureGitCommits, jobqueue.CaptureGitCommitsPayload{
					PendingFile: pendingPath,
					RepoDir:     app.ProjectRoot,
					GroupID:     app.GroupID,
				}, false)
				if err != nil {
					return err
				}
				queued = append(queued, jobqueue.JobCaptureGitCommits)
			}

			if transcriptPath == "" {
				transcriptPath = os.Getenv(TranscriptPathEnvVar)
			}
			if transcriptPath != "" {
				if sessionID == "" {
					base := filepath.Base(transcriptPath)
					sessionID = strings.TrimSuffix(base, filepath.Ext(base))
				}
				_, err = jobs.Enqueue(jobqueue.JobCaptureConversation, jobqueue.CaptureConversationPayload{
					TranscriptPath: transcriptPath,
					SessionID:      sessionID,
					Auto:           auto,
					GroupID:        app.GroupID,
				}, false)
				if err != nil {
					return err
				}
				queued = append(queued, jobqueue.JobCaptureConversation)
			}

			if len(queued) == 0 {
				return app.emit(map[string]any{"queued": []string{}}, func(w io.Writer) {
					fmt.Fprintln(w, "Nothing to capture: no repository and no transcript.")
				})
			}
			if err := app.runJobs(cmd.Context()); err != nil {
				return err
			}

			dead, err := jobs.DeadLetters()
			if err != nil {
				return err
			}
			result := map[string]any{
				"queued":       queued,
				"dead_letters": len(dead),
			}
			return app.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "Captured: %s\n", strings.Join(queued, ", "))
				if len(dead) > 0 {
					fmt.Fprintf(w, "%d jobs failed permanently; see 'graphiti queue status'\n", len(dead))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "hook mode: capture only turns newer than the last capture")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "transcript JSONL file (defaults to $"+TranscriptPathEnvVar+")")
	cmd.Flags().StringVar(&sessionID, "session", "", "session identifier (defaults to the transcript name)")
	return cmd
}
