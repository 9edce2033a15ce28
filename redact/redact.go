// Package redact is the security filter every payload passes through
// before it reaches an LLM or the graph: file exclusion, secret detection
// with typed redaction placeholders, a per-project allowlist, and an
// append-only audit log.
//
// Detection is layered:
//  1. Typed pattern detectors (AWS keys, GitHub tokens, JWTs, PEM private
//     keys, connection strings, keyword-adjacent secrets).
//  2. Entropy-based detection for base64 and hex candidates.
//  3. gitleaks regex rules (180+ known secret formats) as a backstop; its
//     findings get the generic api_key placeholder.
//
// A span flagged by any layer is redacted unless allowlisted. Sanitize
// never fails and never blocks a write.
package redact

import (
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

var (
	gitleaksDetector     *detect.Detector
	gitleaksDetectorOnce sync.Once
)

func getDetector() *detect.Detector {
	gitleaksDetectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		gitleaksDetector = d
	})
	return gitleaksDetector
}

// Sanitizer detects and redacts secrets. The zero value works; Allowlist
// and Audit are optional.
type Sanitizer struct {
	// Allowlist holds project-approved secret hashes. Nil means every
	// finding is redacted.
	Allowlist *Allowlist
	// Audit receives one event per redaction and per allowlist hit. Nil
	// disables auditing.
	Audit *AuditLog
	// Exclusions gates whole files; see CheckExcluded.
	Exclusions *ExclusionList
}

// New builds a Sanitizer with the given allowlist and audit log, both
// optional.
func New(allowlist *Allowlist, audit *AuditLog) *Sanitizer {
	return &Sanitizer{Allowlist: allowlist, Audit: audit, Exclusions: DefaultExclusions()}
}

// Sanitize detects secrets in content and returns the redacted text plus
// findings. It never returns an error; on any internal failure the input
// passes through with whatever redactions were applied before the failure.
func (s *Sanitizer) Sanitize(content, filePath string) *Result {
	result := &Result{Original: content, Sanitized: content}
	if content == "" {
		return result
	}

	candidates := runPatternDetectors(content)
	candidates = append(candidates, runEntropyDetector(content)...)
	candidates = append(candidates, runGitleaks(content)...)
	if len(candidates) == 0 {
		return result
	}

	// Earlier detectors win overlapping spans: typed placeholders beat
	// the generic entropy/gitleaks ones.
	kept := resolveOverlaps(candidates)

	var redacted []Finding
	for _, f := range kept {
		f.FilePath = filePath
		if s.Allowlist != nil && s.Allowlist.IsAllowed(f.Match) {
			result.Allowlisted++
			s.auditEvent(AuditEvent{
				Event:      EventAllowlistCheck,
				Action:     "allowed",
				SecretType: f.Type,
				LineNumber: f.Line,
				Confidence: f.Confidence,
				FilePath:   filePath,
			})
			continue
		}
		redacted = append(redacted, f)
	}

	result.Findings = redacted
	result.Sanitized = applyRedactions(content, redacted)

	for _, f := range redacted {
		s.auditEvent(AuditEvent{
			Event:        EventSecretDetected,
			Action:       "redacted",
			SecretType:   f.Type,
			LineNumber:   f.Line,
			Confidence:   f.Confidence,
			EntropyScore: f.Entropy,
			FilePath:     filePath,
			Placeholder:  f.Type.Placeholder(),
		})
	}
	return result
}

func (s *Sanitizer) auditEvent(ev AuditEvent) {
	if s.Audit != nil {
		s.Audit.Write(ev)
	}
}

// runGitleaks maps gitleaks findings onto generic api_key findings. Every
// occurrence of each detected secret is flagged, not just the first.
func runGitleaks(content string) []Finding {
	d := getDetector()
	if d == nil {
		return nil
	}
	var findings []Finding
	for _, f := range d.DetectString(content) {
		if f.Secret == "" {
			continue
		}
		searchFrom := 0
		for {
			idx := strings.Index(content[searchFrom:], f.Secret)
			if idx < 0 {
				break
			}
			abs := searchFrom + idx
			findings = append(findings, Finding{
				Type:       SecretAPIKey,
				Match:      f.Secret,
				Line:       lineNumberAt(content, abs),
				Confidence: ConfidenceHigh,
				start:      abs,
				end:        abs + len(f.Secret),
			})
			searchFrom = abs + len(f.Secret)
		}
	}
	return findings
}

// resolveOverlaps keeps at most one finding per span. Findings earlier in
// the candidate slice take priority; within the survivors, output is
// ordered by position.
func resolveOverlaps(candidates []Finding) []Finding {
	var kept []Finding
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.start < k.end && k.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// applyRedactions replaces each finding's span with its typed placeholder.
// Findings must be position-sorted and non-overlapping.
func applyRedactions(content string, findings []Finding) string {
	if len(findings) == 0 {
		return content
	}
	var b strings.Builder
	prev := 0
	for _, f := range findings {
		b.WriteString(content[prev:f.start])
		b.WriteString(f.Type.Placeholder())
		prev = f.end
	}
	b.WriteString(content[prev:])
	return b.String()
}
