// Package work runs best-effort background recomputations of analyses.
//
// The RefreshQueue accepts symbols without blocking the request path. A bounded
// buffer absorbs bursts; requests beyond it are dropped and counted. A symbol
// that is already queued, scheduled or running is never queued twice.
//
// Delayed refreshes (Schedule) are held on timers until they fire, so a symbol
// computed live is recomputed in the background shortly before its cache entry
// goes stale.
package work
