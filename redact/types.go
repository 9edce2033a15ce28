package redact

// SecretType classifies a detected secret and names its redaction
// placeholder.
type SecretType string

const (
	SecretAWSKey           SecretType = "aws_key"
	SecretGitHubToken      SecretType = "github_token"
	SecretJWT              SecretType = "jwt"
	SecretAPIKey           SecretType = "api_key"
	SecretPrivateKey       SecretType = "private_key"
	SecretConnectionString SecretType = "connection_string"
	SecretHighEntropy      SecretType = "high_entropy"
)

// Placeholder returns the redaction placeholder for this secret type.
func (t SecretType) Placeholder() string {
	return "[REDACTED:" + string(t) + "]"
}

// Confidence expresses how certain a detector is about a finding. Pattern
// matchers are high; entropy and keyword detectors are medium.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Finding is one detected secret occurrence.
type Finding struct {
	Type       SecretType `json:"type"`
	Match      string     `json:"match"`
	Line       int        `json:"line"`
	Confidence Confidence `json:"confidence"`
	// Entropy is the Shannon entropy of the match, set only by the
	// entropy detector.
	Entropy float64 `json:"entropy,omitempty"`
	// FilePath is the file the content came from, when known.
	FilePath string `json:"file_path,omitempty"`

	start, end int
}

// Result is the outcome of sanitizing one input string.
type Result struct {
	Original  string
	Sanitized string
	Findings  []Finding
	// Allowlisted counts findings left intact because their hash is in
	// the project allowlist.
	Allowlisted int
}

// WasModified reports whether any redaction was applied.
func (r *Result) WasModified() bool {
	return r.Sanitized != r.Original
}
