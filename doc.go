// Package browserstate is a Chrome DevTools Protocol client that turns a
// live page into a compact, indexed inventory of actionable elements for
// consumption by an LLM, plus primitives (click, type, scroll, key, select,
// navigate, screenshot) that act on those elements by index.
//
// The package owns the subsystem between the raw CDP WebSocket and a
// higher-level agent loop: a multiplexed client (one connection, many
// attached target sessions), a session/frame registry, a three-source
// element merger (internal/merger), and a serializer (internal/serializer)
// that renders the merged list as LLM-facing text alongside a 1-based
// selector map. The Chrome process itself, LLM backends, the agent loop,
// the CLI, configuration loading, and logging setup are out of scope —
// callers own those and talk to this package through Config and BrowserState.
package browserstate
