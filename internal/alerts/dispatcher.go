package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts/cache"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
	"github.com/reviewpulse/reviewpulse/internal/push"
)

// Emergency-priority delivery parameters required by the push provider.
const (
	emergencyRetry  = 30 * time.Second
	emergencyExpire = 3600 * time.Second
)

// Keys stripped from alert context blocks before formatting.
var sensitiveKeys = map[string]struct{}{
	"trace":    {},
	"password": {},
	"token":    {},
	"secret":   {},
}

const maxContextLines = 5

// Options tune one dispatch call.
type Options struct {
	// PriorityOverride replaces the type's default priority when non-nil.
	PriorityOverride *int
	// Context is rendered as Key: value lines under the message body.
	Context map[string]string
}

// Dispatcher emits operator alerts through a push channel, suppressing
// repeats of throttled types within their throttle window.
type Dispatcher struct {
	channel  push.Channel
	throttle cache.Cache
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(channel push.Channel, throttle cache.Cache, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{channel: channel, throttle: throttle, logger: logger}
}

// Dispatch resolves the alert's metadata, formats the body, applies the
// throttle, and sends. It never returns an error to the caller: failures are
// logged only, so alerting can never fail the pipeline that raised it.
func (d *Dispatcher) Dispatch(ctx context.Context, t Type, message string, opts Options) {
	meta := Lookup(t)
	priority := meta.Priority
	if opts.PriorityOverride != nil {
		priority = *opts.PriorityOverride
	}

	// The throttle record is claimed atomically up front so concurrent
	// dispatchers cannot both send; a failed send releases the claim below
	// so the window is only consumed by a delivered alert.
	claimed := false
	if meta.Throttled {
		fresh, err := d.throttle.SetIfAbsent(ctx, string(t), meta.Throttle)
		if err != nil {
			// A broken throttle backend must not silence alerts; send anyway.
			d.logger.Warn("alert throttle cache unavailable",
				zap.String("alert_type", string(t)),
				zap.Error(err),
			)
		} else if fresh {
			claimed = true
		} else {
			d.logger.Info("alert suppressed by throttle",
				zap.String("alert_type", string(t)),
				zap.Duration("window", meta.Throttle),
			)
			metrics.ObserveAlert(string(t), "suppressed")
			return
		}
	}

	msg := push.Message{
		Title:    meta.DisplayName,
		Body:     formatBody(message, opts.Context),
		Priority: priority,
		Sound:    meta.Sound,
	}
	if priority >= PriorityEmergency {
		msg.Retry = emergencyRetry
		msg.Expire = emergencyExpire
	}

	if err := d.channel.Send(ctx, msg); err != nil {
		d.logger.Error("alert send failed",
			zap.String("alert_type", string(t)),
			zap.Int("priority", priority),
			zap.Error(err),
		)
		if claimed {
			if delErr := d.throttle.Delete(ctx, string(t)); delErr != nil {
				d.logger.Warn("throttle release failed",
					zap.String("alert_type", string(t)),
					zap.Error(delErr),
				)
			}
		}
		metrics.ObserveAlert(string(t), "failed")
		return
	}
	metrics.ObserveAlert(string(t), "sent")
}

// formatBody appends a context block to the message: sensitive keys dropped,
// remaining entries as "Key: value" lines in stable order, capped at 5.
func formatBody(message string, context map[string]string) string {
	if len(context) == 0 {
		return message
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxContextLines {
		keys = keys[:maxContextLines]
	}
	if len(keys) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, context[k])
	}
	return b.String()
}
