package gitcapture

import "strings"

// Commit messages matching any of these are never captured, regardless
// of keywords.
var defaultExcludePatterns = []string{
	"fixup",
	"wip",
	"typo",
	"format",
	"ran tests",
	"updated readme",
	"squash",
	"lint",
	"formatting chore",
	"temporary experiment",
	"debugging trace",
}

// defaultKeywordCategories maps each capture category to the message
// keywords that qualify a commit for it.
var defaultKeywordCategories = map[string][]string{
	"decisions": {
		"decided", "chose", "selected", "alternative", "option",
		"rejected", "tradeoff", "instead of", "rather than",
	},
	"architecture": {
		"design", "structure", "pattern", "component", "interface",
		"layer", "module", "refactor", "architecture",
	},
	"bugs": {
		"fix", "bug", "error", "issue", "crash", "regression",
		"root cause", "workaround", "patch",
	},
	"dependencies": {
		"add", "install", "upgrade", "remove", "dependency",
		"library", "package", "version", "migrate",
	},
}

// RelevanceFilter decides which commits are worth summarizing. A commit
// is relevant iff its message avoids every exclude pattern and matches
// at least one keyword from an enabled category.
type RelevanceFilter struct {
	excludePatterns []string
	categories      map[string][]string
}

// NewRelevanceFilter builds a filter from configured category names.
// Unknown or empty category sets silently fall back to the defaults.
func NewRelevanceFilter(enabledCategories []string) *RelevanceFilter {
	categories := make(map[string][]string)
	for _, name := range enabledCategories {
		if keywords, ok := defaultKeywordCategories[name]; ok {
			categories[name] = keywords
		}
	}
	if len(categories) == 0 {
		categories = defaultKeywordCategories
	}
	return &RelevanceFilter{
		excludePatterns: defaultExcludePatterns,
		categories:      categories,
	}
}

// IsRelevant reports whether a commit message qualifies for capture,
// with the matching category or exclude pattern as the reason.
func (f *RelevanceFilter) IsRelevant(message string) (bool, string) {
	lower := strings.ToLower(message)
	for _, pattern := range f.excludePatterns {
		if strings.Contains(lower, pattern) {
			return false, "excluded: " + pattern
		}
	}
	for category, keywords := range f.categories {
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				return true, category
			}
		}
	}
	return false, "no matching keywords"
}
