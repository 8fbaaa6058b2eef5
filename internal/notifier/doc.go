// Package notifier delivers coefficient alerts to users.
//
// Messages are queued and sent by a fixed pool of workers. Each chat is
// pinned to one worker so a user's alerts arrive in the order they were
// detected. Sends are rate limited globally and retried with jittered
// exponential backoff; a Telegram flood-wait overrides the backoff.
package notifier
