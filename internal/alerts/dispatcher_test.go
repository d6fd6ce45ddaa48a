package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachememory "github.com/reviewpulse/reviewpulse/internal/alerts/cache/memory"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
	"github.com/reviewpulse/reviewpulse/internal/push"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []push.Message
	err  error
}

func (c *recordingChannel) Send(_ context.Context, msg push.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *recordingChannel) messages() []push.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]push.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

type frozenClock struct {
	now time.Time
}

func (c frozenClock) Now() time.Time { return c.now }

func newDispatcher(t *testing.T) (*Dispatcher, *recordingChannel) {
	t.Helper()
	metrics.Init()
	ch := &recordingChannel{}
	throttle := cachememory.New(frozenClock{now: time.Unix(1700000000, 0).UTC()})
	return NewDispatcher(ch, throttle, zap.NewNop()), ch
}

func TestThrottledTypeSendsOncePerWindow(t *testing.T) {
	t.Parallel()

	d, ch := newDispatcher(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Dispatch(ctx, TypeSessionExpired, "session expired", Options{})
	}

	require.Len(t, ch.messages(), 1)
	require.Equal(t, "Session Expired", ch.messages()[0].Title)
}

func TestEmergencyAlertCarriesRetryAndExpire(t *testing.T) {
	t.Parallel()

	d, ch := newDispatcher(t)
	d.Dispatch(context.Background(), TypeDatabaseError, "connection pool exhausted", Options{})

	msgs := ch.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, PriorityEmergency, msgs[0].Priority)
	require.Equal(t, 30*time.Second, msgs[0].Retry)
	require.Equal(t, 3600*time.Second, msgs[0].Expire)

	// Emergency types are not throttled: repeat sends go out every time.
	d.Dispatch(context.Background(), TypeDatabaseError, "still down", Options{})
	require.Len(t, ch.messages(), 2)
}

func TestContextBlockDropsSensitiveKeysAndCapsLines(t *testing.T) {
	t.Parallel()

	d, ch := newDispatcher(t)
	d.Dispatch(context.Background(), TypeServicePanic, "worker crashed", Options{
		Context: map[string]string{
			"token":    "abc123",
			"password": "hunter2",
			"Trace":    "goroutine 12",
			"asin":     "B0TESTASIN",
			"country":  "de",
			"queue":    "scraping",
			"attempt":  "2",
			"job_id":   "0191a-...",
			"status":   "running",
		},
	})

	msgs := ch.messages()
	require.Len(t, msgs, 1)
	body := msgs[0].Body
	require.NotContains(t, body, "abc123")
	require.NotContains(t, body, "hunter2")
	require.NotContains(t, body, "goroutine 12")
	require.Contains(t, body, "asin: B0TESTASIN")

	// Five context lines at most, after the message and blank separator.
	lines := strings.Split(body, "\n")
	require.Len(t, lines, 2+5)
}

func TestPriorityOverrideWins(t *testing.T) {
	t.Parallel()

	d, ch := newDispatcher(t)
	high := PriorityHigh
	d.Dispatch(context.Background(), TypeSessionExpired, "session expired", Options{
		PriorityOverride: &high,
	})

	msgs := ch.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, PriorityHigh, msgs[0].Priority)
}

func TestSendFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()
	metrics.Init()

	ch := &recordingChannel{err: errors.New("provider down")}
	throttle := cachememory.New(frozenClock{now: time.Unix(1700000000, 0).UTC()})
	d := NewDispatcher(ch, throttle, zap.NewNop())

	// Must not panic or surface the error.
	d.Dispatch(context.Background(), TypePipelineFailed, "boom", Options{})
	require.Empty(t, ch.messages())
}

func TestFailedSendDoesNotConsumeThrottleWindow(t *testing.T) {
	t.Parallel()

	d, ch := newDispatcher(t)
	ctx := context.Background()

	// First dispatch claims the throttle record but the provider is down.
	ch.fail(errors.New("provider down"))
	d.Dispatch(ctx, TypeSessionExpired, "session expired", Options{})
	require.Empty(t, ch.messages())

	// The provider recovers inside the window; the alert still goes out
	// because only a delivered send keeps the record.
	ch.fail(nil)
	d.Dispatch(ctx, TypeSessionExpired, "session expired", Options{})
	require.Len(t, ch.messages(), 1)

	// The successful send did consume the window.
	d.Dispatch(ctx, TypeSessionExpired, "session expired", Options{})
	require.Len(t, ch.messages(), 1)
}
