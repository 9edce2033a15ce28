package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AssistantStopCommand is the hook entry installed into the assistant's
// settings file; it captures the session transcript when a conversation
// ends.
const AssistantStopCommand = "graphiti capture --auto"

// assistantHookSubstring identifies graphiti entries in the settings
// file. The assistant settings carry no marker comments, so detection is
// by command substring.
const assistantHookSubstring = "graphiti"

// assistantHookEntry is one command in a hook matcher.
type assistantHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// assistantHookMatcher groups hook entries under an optional matcher.
type assistantHookMatcher struct {
	Matcher string               `json:"matcher,omitempty"`
	Hooks   []assistantHookEntry `json:"hooks"`
}

// assistantHooks is the hooks section of the settings file. Only the
// Stop event is managed; other events pass through untouched via the
// raw settings map.
type assistantHooks struct {
	Stop []assistantHookMatcher `json:"Stop,omitempty"`
}

// InstallAssistantHook adds the capture command to the settings file's
// hooks.Stop array. Unknown top-level fields and other hook events are
// preserved. Installing twice adds nothing.
func InstallAssistantHook(settingsPath string) error {
	raw, hooks, err := loadAssistantSettings(settingsPath)
	if err != nil {
		return err
	}
	if assistantHookInstalled(hooks.Stop) {
		return nil
	}
	hooks.Stop = append(hooks.Stop, assistantHookMatcher{
		Hooks: []assistantHookEntry{{Type: "command", Command: AssistantStopCommand}},
	})
	return saveAssistantSettings(settingsPath, raw, hooks)
}

// UninstallAssistantHook removes every graphiti entry from hooks.Stop.
func UninstallAssistantHook(settingsPath string) error {
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return nil
	}
	raw, hooks, err := loadAssistantSettings(settingsPath)
	if err != nil {
		return err
	}
	var kept []assistantHookMatcher
	for _, matcher := range hooks.Stop {
		var entries []assistantHookEntry
		for _, entry := range matcher.Hooks {
			if !strings.Contains(entry.Command, assistantHookSubstring) {
				entries = append(entries, entry)
			}
		}
		if len(entries) > 0 {
			matcher.Hooks = entries
			kept = append(kept, matcher)
		}
	}
	hooks.Stop = kept
	return saveAssistantSettings(settingsPath, raw, hooks)
}

// IsAssistantHookInstalled reports whether hooks.Stop carries a graphiti
// entry.
func IsAssistantHookInstalled(settingsPath string) bool {
	_, hooks, err := loadAssistantSettings(settingsPath)
	if err != nil {
		return false
	}
	return assistantHookInstalled(hooks.Stop)
}

func assistantHookInstalled(matchers []assistantHookMatcher) bool {
	for _, matcher := range matchers {
		for _, entry := range matcher.Hooks {
			if strings.Contains(entry.Command, assistantHookSubstring) {
				return true
			}
		}
	}
	return false
}

func loadAssistantSettings(path string) (map[string]json.RawMessage, *assistantHooks, error) {
	raw := map[string]json.RawMessage{}
	hooks := &assistantHooks{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return raw, hooks, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading assistant settings: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing assistant settings: %w", err)
	}
	if hooksRaw, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, hooks); err != nil {
			return nil, nil, fmt.Errorf("parsing hooks in assistant settings: %w", err)
		}
	}
	return raw, hooks, nil
}

func saveAssistantSettings(path string, raw map[string]json.RawMessage, hooks *assistantHooks) error {
	hooksRaw, err := json.Marshal(hooks)
	if err != nil {
		return fmt.Errorf("encoding hooks: %w", err)
	}
	raw["hooks"] = hooksRaw
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding assistant settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing assistant settings: %w", err)
	}
	return nil
}
