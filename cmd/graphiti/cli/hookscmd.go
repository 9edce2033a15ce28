package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/hooks"
)

// assistantSettingsPath locates the assistant's settings.json.
func assistantSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

func newHooksCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage git and assistant hooks",
	}
	cmd.AddCommand(newHooksInstallCmd(opts))
	cmd.AddCommand(newHooksUninstallCmd(opts))
	cmd.AddCommand(newHooksStatusCmd(opts))
	cmd.AddCommand(newHooksScanStagedCmd(opts))
	return cmd
}

func newHooksInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install git hooks and the assistant capture hook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.ProjectRoot == "" {
				return fmt.Errorf("hooks install requires a git repository")
			}
			for _, name := range hooks.HookNames {
				// Upgrade replaces legacy blocks; Install is a no-op when
				// a current block is already present.
				if err := hooks.Upgrade(app.ProjectRoot, name); err != nil {
					return err
				}
				if err := hooks.Install(app.ProjectRoot, name); err != nil {
					return err
				}
			}

			settingsPath, err := assistantSettingsPath()
			if err != nil {
				return err
			}
			if err := hooks.InstallAssistantHook(settingsPath); err != nil {
				return err
			}
			return app.emit(map[string]any{"installed": hooks.HookNames, "assistant": true},
				func(w io.Writer) {
					fmt.Fprintf(w, "Installed %d git hooks and the assistant capture hook\n",
						len(hooks.HookNames))
				})
		},
	}
}

func newHooksUninstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove git hooks and the assistant capture hook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.ProjectRoot == "" {
				return fmt.Errorf("hooks uninstall requires a git repository")
			}
			for _, name := range hooks.HookNames {
				if err := hooks.Uninstall(app.ProjectRoot, name); err != nil {
					return err
				}
			}

			settingsPath, err := assistantSettingsPath()
			if err != nil {
				return err
			}
			if err := hooks.UninstallAssistantHook(settingsPath); err != nil {
				return err
			}
			return app.emit(map[string]any{"uninstalled": hooks.HookNames, "assistant": false},
				func(w io.Writer) {
					fmt.Fprintln(w, "Removed git hooks and the assistant capture hook")
				})
		},
	}
}

// hookStatus is one row of the hooks status report.
type hookStatus struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

func newHooksStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report installed hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			var rows []hookStatus
			for _, name := range hooks.HookNames {
				installed := app.ProjectRoot != "" && hooks.IsInstalled(app.ProjectRoot, name)
				rows = append(rows, hookStatus{Name: name, Installed: installed})
			}

			settingsPath, err := assistantSettingsPath()
			if err != nil {
				return err
			}
			assistant := hooks.IsAssistantHookInstalled(settingsPath)

			report := map[string]any{"git_hooks": rows, "assistant": assistant}
			return app.emit(report, func(w io.Writer) {
				for _, row := range rows {
					state := "not installed"
					if row.Installed {
						state = "installed"
					}
					fmt.Fprintf(w, "%-14s %s\n", row.Name, state)
				}
				state := "not installed"
				if assistant {
					state = "installed"
				}
				fmt.Fprintf(w, "%-14s %s\n", "assistant", state)
			})
		},
	}
}

func newHooksScanStagedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:    "scan-staged",
		Short:  "Scan staged changes for secrets",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.ProjectRoot == "" {
				return fmt.Errorf("scan-staged requires a git repository")
			}
			sanitizer, err := app.Sanitizer()
			if err != nil {
				return err
			}
			findings, err := hooks.ScanStaged(cmd.Context(), app.ProjectRoot, sanitizer)
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				return nil
			}
			fmt.Fprint(os.Stderr, hooks.FormatFindings(findings))
			return &SilentError{Err: fmt.Errorf("%d potential secrets in staged changes", len(findings))}
		},
	}
}
