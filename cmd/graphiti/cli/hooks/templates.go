package hooks

// hookTemplates are the marker-wrapped shell blocks per hook. Every
// template must stay fast and must never call back into the application
// synchronously; capture work is deferred to the pending file or a
// detached index run.
var hookTemplates = map[string]string{
	// Appends the short commit hash for asynchronous capture.
	// Target: < 100 ms.
	"post-commit": MarkerStart + `
mkdir -p "$HOME/.graphiti"
git rev-parse --short HEAD >> "$HOME/.graphiti/pending_commits" 2>/dev/null || true
` + MarkerEnd + "\n",

	// Delta-only secret scan on staged files. GRAPHITI_SKIP=1 bypasses.
	"pre-commit": MarkerStart + `
if [ "$GRAPHITI_SKIP" = "1" ]; then
  exit 0
fi
if ! graphiti hooks scan-staged; then
  echo "graphiti: secrets detected in staged changes; commit blocked." >&2
  echo "graphiti: set GRAPHITI_SKIP=1 to bypass." >&2
  exit 1
fi
` + MarkerEnd + "\n",

	// Re-index in the background after history-changing operations.
	"post-merge": MarkerStart + `
(graphiti index >/dev/null 2>&1 &)
` + MarkerEnd + "\n",

	"post-rewrite": MarkerStart + `
(graphiti index >/dev/null 2>&1 &)
` + MarkerEnd + "\n",

	// $3 = 1 only for branch checkouts; file checkouts are ignored.
	"post-checkout": MarkerStart + `
if [ "$3" != "1" ]; then
  exit 0
fi
(graphiti index >/dev/null 2>&1 &)
` + MarkerEnd + "\n",
}
