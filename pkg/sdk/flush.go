package sdk

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/sdk/transport"
)

type stopReason int

const (
	stopDrained  stopReason = iota // queue emptied
	stopDisabled                   // kill switch on
	stopBusy                       // another flush owns the queue head
	stopEmpty                      // nothing to send
	stopCooldown                   // before nextFlushAt
	stopFailed                     // delivery failed; backing off
	stopCanceled                   // caller gave up between events
)

func (r stopReason) String() string {
	switch r {
	case stopDrained:
		return "drained"
	case stopDisabled:
		return "disabled"
	case stopBusy:
		return "busy"
	case stopEmpty:
		return "empty"
	case stopCooldown:
		return "cooldown"
	case stopFailed:
		return "failed"
	case stopCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// flushOutcome is the internal result of one flush attempt. Callers of the
// public API never see it.
type flushOutcome struct {
	sent    int
	dropped int
	reason  stopReason
	err     error
}

// backoff returns min(30s, 1s * 2^(failures-1)).
func backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures > 6 {
		return maxBackoff
	}
	d := baseBackoff << (failures - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) flush(ctx context.Context) flushOutcome {
	if c.cfg.Disabled {
		return flushOutcome{reason: stopDisabled}
	}
	if !c.flushing.CompareAndSwap(false, true) {
		return flushOutcome{reason: stopBusy}
	}
	defer c.flushing.Store(false)

	if c.queue.Len() == 0 {
		return flushOutcome{reason: stopEmpty}
	}
	if c.inCooldown() {
		return flushOutcome{reason: stopCooldown}
	}

	var out flushOutcome
	for {
		if err := ctx.Err(); err != nil {
			out.reason, out.err = stopCanceled, err
			return out
		}

		head, ok := c.queue.Peek()
		if !ok {
			out.reason = stopDrained
			return out
		}

		err := c.send(ctx, head.Event)
		switch {
		case err == nil:
			c.queue.Remove(head.Seq)
			c.recordSuccess()
			out.sent++

		case c.shouldDrop(err):
			c.queue.Remove(head.Seq)
			out.dropped++
			c.log.Warn("dropping event rejected by collector",
				zap.String("component", head.Event.Component),
				zap.String("action", head.Event.Action),
				zap.Error(err))

		default:
			failures, wait := c.recordFailure()
			c.log.Debug("delivery failed",
				zap.Error(err),
				zap.Int("failures", failures),
				zap.Duration("backoff", wait),
				zap.Int("pending", c.queue.Len()))
			out.reason, out.err = stopFailed, err
			return out
		}
	}
}

// send delivers one event. The call is detached from ctx cancellation so an
// in-flight request is never cut short; only the per-call timeout applies.
func (c *Client) send(ctx context.Context, ev event.Tracked) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()
	return c.transport.Send(sendCtx, ev)
}

func (c *Client) shouldDrop(err error) bool {
	if errors.Is(err, transport.ErrSerialization) {
		return true
	}
	return c.cfg.DropRejected && transport.IsPermanent(err)
}

func (c *Client) inCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.nextFlushAt.IsZero() && c.clock.Now().Before(c.nextFlushAt)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.nextFlushAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) recordFailure() (int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	wait := backoff(c.failures)
	c.nextFlushAt = c.clock.Now().Add(wait)
	return c.failures, wait
}
