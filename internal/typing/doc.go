// Package typing manages transient "is typing" state on both ends of the
// event channel: the Coordinator debounces outgoing signals so a burst of
// keystrokes costs one start event, and the Tracker holds the incoming
// per-conversation typing set with a hard expiry so a lost stop signal can
// never strand an entry.
package typing
