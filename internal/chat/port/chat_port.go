// Package port defines what the chat service needs from its runtime: a way
// to run delayed follow-ups and a way to serialize work per sender.
package port

import (
	"context"
	"time"
)

// Scheduler runs deferred follow-ups keyed by sender. A task only fires if
// no newer activity was recorded for the sender since it was scheduled.
type Scheduler interface {
	// Schedule registers fn to run after delay, bound to the sender's
	// current generation.
	Schedule(senderID string, delay time.Duration, fn func(ctx context.Context))
	// Bump advances the sender's generation, invalidating pending tasks.
	Bump(senderID string)
}

// Lanes serializes jobs per sender while letting different senders run
// concurrently. The job runs later on its own context; ctx only carries the
// trace the job is linked to.
type Lanes interface {
	Submit(ctx context.Context, senderID string, job func(ctx context.Context)) error
}
