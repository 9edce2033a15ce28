package redact

import (
	"math"
	"regexp"
	"strings"
)

// Typed detectors run before gitleaks so their spans get the specific
// placeholder type. Thresholds are deliberately aggressive: a false
// positive costs one audit entry, a miss reaches a remote LLM.
const (
	base64EntropyThreshold = 3.5
	hexEntropyThreshold    = 2.5
	minEntropyLength       = 20
)

var (
	// awsKeyPattern matches AWS access key IDs: one of the 8 known
	// prefixes followed by a 16-char uppercase/digit body.
	awsKeyPattern = regexp.MustCompile(`\b(?:AKIA|ABIA|AGPA|AIDA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)

	// githubTokenPattern matches classic and fine-grained GitHub tokens.
	githubTokenPattern = regexp.MustCompile(`\b(?:gh[poushr]_[A-Za-z0-9]{36,255}|github_pat_[A-Za-z0-9_]{22,255})\b`)

	// jwtPattern matches three dot-separated base64url segments starting
	// with the standard JSON header prefix.
	jwtPattern = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)

	// privateKeyPattern matches PEM-delimited private key blocks,
	// including blocks whose END delimiter was cut off by truncation.
	privateKeyPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY(?: BLOCK)?-----(?:.*?-----END [A-Z ]*PRIVATE KEY(?: BLOCK)?-----|[^-]*)`)

	// connectionStringPattern matches URLs embedding user:password
	// credentials.
	connectionStringPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s:@/]+:[^\s@/]+@[^\s"']+`)

	// keywordSecretPattern matches identifier = "value" / identifier: "value"
	// where the identifier smells like a credential.
	keywordSecretPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9_.-]*(?:secret|token|password|passwd|api[_-]?key|apikey|credential|auth)[A-Za-z0-9_.-]*\s*[=:]\s*["']([^"'\n]{8,})["']`)

	// base64CandidatePattern and hexCandidatePattern feed the entropy
	// detector.
	base64CandidatePattern = regexp.MustCompile(`\b[A-Za-z0-9/+=]{20,}\b`)
	hexCandidatePattern    = regexp.MustCompile(`\b[0-9a-fA-F]{20,}\b`)
)

// patternDetector is one typed regex detector.
type patternDetector struct {
	secretType SecretType
	pattern    *regexp.Regexp
	confidence Confidence
	// group selects a capture group to redact instead of the whole
	// match; 0 redacts everything the pattern matched.
	group int
}

var patternDetectors = []patternDetector{
	{secretType: SecretAWSKey, pattern: awsKeyPattern, confidence: ConfidenceHigh},
	{secretType: SecretGitHubToken, pattern: githubTokenPattern, confidence: ConfidenceHigh},
	{secretType: SecretJWT, pattern: jwtPattern, confidence: ConfidenceHigh},
	{secretType: SecretPrivateKey, pattern: privateKeyPattern, confidence: ConfidenceHigh},
	{secretType: SecretConnectionString, pattern: connectionStringPattern, confidence: ConfidenceHigh},
	{secretType: SecretAPIKey, pattern: keywordSecretPattern, confidence: ConfidenceMedium, group: 1},
}

// runPatternDetectors collects findings from all typed regex detectors.
func runPatternDetectors(content string) []Finding {
	var findings []Finding
	for _, d := range patternDetectors {
		for _, loc := range d.pattern.FindAllStringSubmatchIndex(content, -1) {
			start, end := loc[0], loc[1]
			if d.group > 0 && len(loc) > d.group*2+1 && loc[d.group*2] >= 0 {
				start, end = loc[d.group*2], loc[d.group*2+1]
			}
			findings = append(findings, Finding{
				Type:       d.secretType,
				Match:      content[start:end],
				Line:       lineNumberAt(content, start),
				Confidence: d.confidence,
				start:      start,
				end:        end,
			})
		}
	}
	return findings
}

// runEntropyDetector flags base64-looking strings with entropy >= 3.5 and
// hex strings with entropy >= 2.5, both over at least 20 chars.
func runEntropyDetector(content string) []Finding {
	var findings []Finding
	seen := map[int]bool{}

	flag := func(loc []int, threshold float64) {
		if seen[loc[0]] {
			return
		}
		candidate := content[loc[0]:loc[1]]
		entropy := shannonEntropy(candidate)
		if len(candidate) < minEntropyLength || entropy < threshold {
			return
		}
		seen[loc[0]] = true
		findings = append(findings, Finding{
			Type:       SecretHighEntropy,
			Match:      candidate,
			Line:       lineNumberAt(content, loc[0]),
			Confidence: ConfidenceMedium,
			Entropy:    entropy,
			start:      loc[0],
			end:        loc[1],
		})
	}

	for _, loc := range hexCandidatePattern.FindAllStringIndex(content, -1) {
		flag(loc, hexEntropyThreshold)
	}
	for _, loc := range base64CandidatePattern.FindAllStringIndex(content, -1) {
		flag(loc, base64EntropyThreshold)
	}
	return findings
}

// shannonEntropy computes the Shannon entropy of s in bits per character.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	length := float64(len([]rune(s)))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// lineNumberAt returns the 1-based line number of byte offset in content.
func lineNumberAt(content string, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	return strings.Count(content[:offset], "\n") + 1
}
