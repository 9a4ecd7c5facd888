// Package bulk runs start-all, stop-all and restart-all passes over every user.
//
// A pass fans out over users with a bounded worker pool and tallies per-user
// results instead of failing the batch. Passes are serialized, so a start-all
// never overlaps a stop-all or another start-all.
//
// RestartAll stops every active worker and schedules a start-all after a
// grace delay. The deferred start-all is a cancellable task: a second
// RestartAll (or CancelPending, or Close) supersedes the pending one, and
// cancelling a pass that is already running stops it from starting further
// users.
package bulk
