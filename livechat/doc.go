// Package livechat polls a live stream's chat feed on a fixed interval and
// republishes new messages as events.
//
// A LiveChat is built from a Selector (channel id, live id or handle) plus two
// collaborators: a Resolver that turns the selector into a live session and
// its first continuation token, and a Fetcher that requests one chat page.
//
// Lifecycle:
//   - Start resolves the selector. If the poller is already following the
//     same live id nothing happens; if the live id changed, the old session
//     ends with reason "liveID is changed" before the new one starts.
//   - Every interval a tick fetches the next page, emits one chat event per
//     item in upstream order and stores the returned continuation. A failed
//     fetch emits an error and is retried on the next tick with the same token.
//   - Stop disarms the ticker and emits end. It is a no-op when idle.
//
// Ticks never overlap: when a fetch outlasts the interval, the ticks that fire
// meanwhile are skipped (see Status.Skipped) rather than queued.
//
// Errors never escape Start or Stop; register OnError to observe them.
// Errors emitted with no listener registered are logged and dropped.
package livechat
