package gitcapture

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelevanceFilterExcludes(t *testing.T) {
	f := NewRelevanceFilter(nil)

	excluded := []string{
		"fixup! typo",
		"WIP: half done",
		"fix typo in docs",
		"ran tests locally",
		"squash me",
		"lint pass",
	}
	for _, msg := range excluded {
		ok, reason := f.IsRelevant(msg)
		assert.False(t, ok, "%q should be excluded (%s)", msg, reason)
		assert.True(t, strings.HasPrefix(reason, "excluded:"), msg)
	}
}

func TestRelevanceFilterKeywordCategories(t *testing.T) {
	f := NewRelevanceFilter(nil)

	tests := []struct {
		msg      string
		category string
	}{
		{"Decided to use Redis instead of Memcached", "decisions"},
		{"Refactor the storage layer interfaces", "architecture"},
		{"Fix crash on empty config", "bugs"},
		{"Upgrade go-git to v5.16", "dependencies"},
	}
	for _, tt := range tests {
		ok, reason := f.IsRelevant(tt.msg)
		assert.True(t, ok, tt.msg)
		assert.Equal(t, tt.category, reason, tt.msg)
	}
}

func TestRelevanceFilterNoKeywords(t *testing.T) {
	f := NewRelevanceFilter(nil)
	ok, reason := f.IsRelevant("bump copyright year")
	assert.False(t, ok)
	assert.Equal(t, "no matching keywords", reason)
}

func TestRelevanceFilterCaseInsensitive(t *testing.T) {
	f := NewRelevanceFilter(nil)
	ok, _ := f.IsRelevant("FIX: CRASH ON BOOT")
	assert.True(t, ok)
}

func TestRelevanceFilterCustomCategories(t *testing.T) {
	f := NewRelevanceFilter([]string{"bugs"})
	ok, _ := f.IsRelevant("Decided to go with option B")
	assert.False(t, ok, "decisions category disabled")
	ok, _ = f.IsRelevant("fix the regression")
	assert.True(t, ok)
}

func TestRelevanceFilterBadConfigFallsBack(t *testing.T) {
	f := NewRelevanceFilter([]string{"nonsense", "bogus"})
	ok, reason := f.IsRelevant("Refactor the session module")
	assert.True(t, ok, "unknown categories fall back to defaults (%s)", reason)
}

func TestTruncatePerFile(t *testing.T) {
	var b strings.Builder
	b.WriteString("diff --git a/big.go b/big.go\n")
	for i := 0; i < 600; i++ {
		fmt.Fprintf(&b, "+line %d\n", i)
	}
	b.WriteString("diff --git a/small.go b/small.go\n")
	b.WriteString("+tiny change\n")

	out := truncatePerFile(b.String(), 500)
	assert.Equal(t, 1, strings.Count(out, "... (truncated at 500 lines)"),
		"exactly one marker per truncated file")
	assert.Contains(t, out, "+tiny change", "small section untouched")
	assert.NotContains(t, out, "+line 599")
	assert.Contains(t, out, "diff --git a/small.go b/small.go")
}

func TestTruncatePerFileUnderLimit(t *testing.T) {
	patch := "diff --git a/x b/x\n+one\n+two\n"
	assert.Equal(t, patch, truncatePerFile(patch, 500))
}
