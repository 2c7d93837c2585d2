// Package store provides durable persistence for conversations and messages.
// It is the source of truth: live events are best-effort, but anything the
// store accepted can always be recovered by re-fetching history.
package store
