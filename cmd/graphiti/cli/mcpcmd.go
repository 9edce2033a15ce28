package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/mcpserver"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run and register the MCP server",
	}
	cmd.AddCommand(newMCPServeCmd(opts))
	cmd.AddCommand(newMCPInstallCmd(opts))
	return cmd
}

func newMCPServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()
			// Stdout belongs to JSON-RPC; all logging moves to stderr.
			logging.InitStderr()

			repoDir := app.ProjectRoot
			if repoDir == "" {
				if repoDir, err = os.Getwd(); err != nil {
					return err
				}
			}
			server := mcpserver.NewServer(mcpserver.Deps{
				RepoDir:        repoDir,
				IndexStatePath: app.IndexStatePath(),
				TokenBudget:    mcpserver.DefaultTokenBudget,
			})
			return server.Run(cmd.Context())
		},
	}
}

// mcpConfigFile is the project-level MCP registration the assistant
// reads.
const mcpConfigFile = ".mcp.json"

func newMCPInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Register the MCP server in the project's .mcp.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.ProjectRoot == "" {
				return fmt.Errorf("mcp install requires a git repository")
			}
			path := filepath.Join(app.ProjectRoot, mcpConfigFile)
			if err := registerMCPServer(path); err != nil {
				return err
			}
			return app.emit(map[string]string{"registered": path}, func(w io.Writer) {
				fmt.Fprintf(w, "Registered graphiti MCP server in %s\n", path)
			})
		},
	}
}

// registerMCPServer adds (or replaces) the graphiti entry under
// mcpServers, preserving every other key in the file.
func registerMCPServer(path string) error {
	raw := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	servers := map[string]json.RawMessage{}
	if existing, ok := raw["mcpServers"]; ok {
		if err := json.Unmarshal(existing, &servers); err != nil {
			return fmt.Errorf("parsing mcpServers in %s: %w", path, err)
		}
	}

	entry, err := json.Marshal(map[string]any{
		"command": "graphiti",
		"args":    []string{"mcp", "serve"},
	})
	if err != nil {
		return fmt.Errorf("encoding server entry: %w", err)
	}
	servers["graphiti"] = entry

	encoded, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("encoding mcpServers: %w", err)
	}
	raw["mcpServers"] = encoded

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}
