// Package graph stores knowledge-graph episodes and adapts the LLM
// transport to the narrow interfaces the episode builders consume.
package graph

import "time"

// Episode is one unit of captured knowledge: a summarized session, an
// indexed commit, or a manually added note.
type Episode struct {
	UUID              string    `json:"uuid"`
	Name              string    `json:"name"`
	Body              string    `json:"body"`
	Source            string    `json:"source"`
	SourceDescription string    `json:"source_description,omitempty"`
	GroupID           string    `json:"group_id"`
	ReferenceTime     time.Time `json:"reference_time"`
	CreatedAt         time.Time `json:"created_at"`
}

// EpisodeHandle identifies a stored episode.
type EpisodeHandle struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
}
