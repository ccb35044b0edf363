// Package cli provides the declaro console and the one-shot commands built on
// the offline-first services.
//
// NewApp opens the local cache and wires the API client, the connectivity
// watcher and the services. Every transition to online replays the
// declaration and activity-log outboxes.
//
// The console is started via App.Root(ctx), which restores the session,
// starts the watcher and blocks in runREPL until the operator exits.
// Administrative commands record an activity log entry for the signed-in
// account. Submit, SubmitTip and TrackCode serve citizens without a session.
package cli
