// Package dedupe provides message-identifier deduplication using a
// time-based cache, so duplicate or re-delivered live events merge
// idempotently into a conversation view.
package dedupe
