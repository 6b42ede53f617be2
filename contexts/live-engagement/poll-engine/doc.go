// Package pollengine implements live poll and voting for events inside the
// live-engagement context.
//
// The module owns poll lifecycle orchestration (create/update/close/delete),
// the per-identity vote ledger, abuse-resistance quotas, on-demand results
// aggregation, and poll-related event production/consumption through
// outbox-backed workers. Business rules live in the application and domain
// layers; infrastructure concerns stay behind ports and adapters.
package pollengine
