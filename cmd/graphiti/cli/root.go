// Package cli implements the graphiti command tree: knowledge capture,
// search, history indexing, hook management, queue control, and the MCP
// server.
package cli

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

// Version information (set at build time).
var (
	Version = "dev"
	Commit  = "unknown"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	format  string
	global  bool
	project bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "graphiti",
		Short: "Knowledge graph capture for coding projects",
		Long: "Graphiti captures commits, conversations, and repository history\n" +
			"into a searchable knowledge graph. Run 'graphiti hooks install' in a\n" +
			"repository to start capturing automatically.",
		// main handles error printing to avoid duplication.
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.format != formatText && opts.format != formatJSON {
				return &UsageError{Msg: fmt.Sprintf("invalid --format %q (want text or json)", opts.format)}
			}
			if opts.global && opts.project {
				return &UsageError{Msg: "--global and --project are mutually exclusive"}
			}
			logging.Debug(cmd.Context(), "command invoked",
				slog.String("command", cmd.Name()),
				slog.Any("flags", changedFlags(cmd)))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.format, "format", formatText, "output format: text or json")
	flags.BoolVar(&opts.global, "global", false, "use the user-wide graph")
	flags.BoolVar(&opts.project, "project", false, "use the current project's graph")

	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newShowCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newSummarizeCmd(opts))
	cmd.AddCommand(newCompactCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newCaptureCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newHooksCmd(opts))
	cmd.AddCommand(newQueueCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// changedFlags lists the flags explicitly set on this invocation.
func changedFlags(cmd *cobra.Command) []string {
	var names []string
	cmd.Flags().Visit(func(f *pflag.Flag) { names = append(names, f.Name) })
	return names
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("graphiti %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
