// Package audit persists policy decisions to a local SQLite database so
// operators can answer "what was denied last night, and why" without
// scraping logs. The store is append-only; decisions are recorded after
// the verdict is returned and never influence evaluation.
package audit
