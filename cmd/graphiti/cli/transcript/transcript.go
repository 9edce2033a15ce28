// Package transcript captures AI-assistant conversation transcripts:
// tolerant JSONL parsing, per-session capture metadata, and joining
// turns into the text the capture pipeline summarizes.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli/logging"
)

// Turn is one parsed transcript entry.
type Turn struct {
	Index   int
	Role    string
	Content string
}

// rawTurn tolerates the field spellings different assistants emit.
type rawTurn struct {
	Index   *int   `json:"index"`
	Turn    *int   `json:"turn"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

// Parse reads a JSONL transcript. Malformed lines are skipped with a
// warning; turns with no extractable text are dropped. A turn index is
// the explicit index or turn field, else the 1-based line number.
func Parse(content []byte) []Turn {
	var turns []Turn
	reader := bufio.NewReader(bytes.NewReader(content))
	lineNo := 0
	for {
		lineBytes, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			break
		}
		if len(bytes.TrimSpace(lineBytes)) > 0 {
			lineNo++
			var raw rawTurn
			if jsonErr := json.Unmarshal(lineBytes, &raw); jsonErr != nil {
				logging.Warn(context.Background(), "skipping malformed transcript line",
					slog.Int("line", lineNo), slog.String("error", jsonErr.Error()))
			} else if turn, ok := raw.toTurn(lineNo); ok {
				turns = append(turns, turn)
			}
		}
		if err == io.EOF {
			break
		}
	}
	return turns
}

func (r rawTurn) toTurn(lineNo int) (Turn, bool) {
	text := r.Content
	if text == "" {
		text = r.Message
	}
	if text == "" {
		text = r.Text
	}
	if strings.TrimSpace(text) == "" {
		return Turn{}, false
	}
	index := lineNo
	if r.Index != nil {
		index = *r.Index
	} else if r.Turn != nil {
		index = *r.Turn
	}
	return Turn{Index: index, Role: r.Role, Content: text}, true
}

// Join renders turns as one capture item.
func Join(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, fmt.Sprintf("Turn %d:\n%s", turn.Index, turn.Content))
	}
	return strings.Join(parts, "\n---\n")
}

// Capture reads a transcript file and returns the text of the turns to
// capture, plus the highest turn index in that text.
//
// Auto capture (hook-driven) skips turns at or below the session's
// last-captured index. Capture never writes metadata: the cursor only
// moves via Commit, after the caller has durably stored the text. A
// capture whose store step fails therefore returns the same turns on
// retry. Manual capture processes every turn.
func Capture(transcriptPath, metadataPath, sessionID string, auto bool) (string, int, error) {
	content, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", 0, fmt.Errorf("reading transcript: %w", err)
	}
	turns := Parse(content)

	if auto {
		meta, err := LoadMetadata(metadataPath)
		if err != nil {
			return "", 0, err
		}
		last := meta.LastCapturedTurn(sessionID)
		var fresh []Turn
		maxIndex := last
		for _, turn := range turns {
			if turn.Index <= last {
				continue
			}
			fresh = append(fresh, turn)
			if turn.Index > maxIndex {
				maxIndex = turn.Index
			}
		}
		if len(fresh) == 0 {
			return "", last, nil
		}
		return Join(fresh), maxIndex, nil
	}

	if len(turns) == 0 {
		return "", 0, nil
	}
	maxIndex := 0
	for _, turn := range turns {
		if turn.Index > maxIndex {
			maxIndex = turn.Index
		}
	}
	return Join(turns), maxIndex, nil
}

// Commit records the last captured turn for a session. Callers invoke it
// once the captured text has been stored.
func Commit(metadataPath, sessionID string, turn int) error {
	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return err
	}
	meta.SetLastCapturedTurn(sessionID, turn)
	return meta.Save(metadataPath)
}
