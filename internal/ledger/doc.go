package ledger

// Package ledger records which daily tasks already completed for which
// targets, per account and per platform-local calendar day.
//
// It is the only durable state in the bot: backoff and queue state are
// rebuilt from it (plus live remote state) on every run, which makes
// re-entrant runs within the same day idempotent.
