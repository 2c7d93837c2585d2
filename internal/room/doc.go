// Package room tracks which live connections are currently interested in
// which conversation, and fans events out to them.
//
// Membership is ephemeral and never a source of truth for message content:
// a connection that misses a broadcast recovers by re-fetching history from
// the store. Joins are authorized against the conversation's participants;
// a rejected join leaves no room state behind.
package room
