// Package dispatch turns validated webhook resolutions into durable queued
// tasks and executes them through a bounded worker pool.
//
// The dispatcher side runs on the webhook request path: it creates or
// updates the instance document, reserves resources for new instances, and
// enqueues the task. The worker side drains the queue asynchronously,
// launching one phase process per task inside the instance's worktree and
// reporting the terminal status back to the originating issue.
package dispatch
