// Package notifier delivers issue notifications to the configured chat.
//
// Dispatch only enqueues; workers send asynchronously under a shared rate
// limit. Each delivery gets exactly one send attempt. The outcome is logged,
// published on the event bus and appended to the audit log when storage is
// enabled, but never retried.
package notifier
