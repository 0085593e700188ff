// Package litcritic is an editorial review engine for fiction manuscripts.
//
// A scene is analysed through six parallel lenses (prose, structure, logic,
// clarity, continuity, dialogue), the results are merged, deduplicated and
// re-ranked by a chunked coordinator pass, and the author then works through
// the findings one at a time: accepting, rejecting, or arguing with the
// critic until every finding reaches a terminal status. Decisions feed a
// per-project learning memory that shapes future reviews.
//
// # Quick Start
//
// Install the CLI:
//
//	go install litcritic/cmd/litcritic@latest
//
// Run a review over a project directory (the directory must contain the
// CANON.md index):
//
//	litcritic analyze --scene scenes/ch01.md --project ./my-novel
//
// Resume an interrupted review:
//
//	litcritic resume --project ./my-novel
//
// Run the stateless core as an HTTP service:
//
//	litcritic serve --listen :8080
//
// # Architecture
//
// The system splits into a stateless core and a stateful platform:
//
//	CLI / HTTP client → pkg/platform (sessions, files, learning)
//	                  → pkg/service  (analyze, discuss, re-evaluate)
//	                  → pkg/llms     (Anthropic / OpenAI providers)
//
// The core holds no session state and reads no ambient credentials; every
// request carries its own model configuration. The platform owns the
// project directory, the SQLite session store, and the review loop.
package litcritic
