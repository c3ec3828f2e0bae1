package events

import (
	"context"
	"time"

	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
)

// WindowCounter is the fixed-window counter backing anomaly detection (redis in production).
type WindowCounter interface {
	WindowCount(ctx context.Context, scope string, window time.Duration, now time.Time) (int64, time.Time, error)
}

// Thresholds maps an event type to the count per window that marks an anomaly.
type Thresholds map[enums.SystemEventType]int64

// Anomaly describes a threshold crossing.
type Anomaly struct {
	Type        enums.SystemEventType
	Count       int64
	Threshold   int64
	WindowStart time.Time
}

// Intelligence counts events per fixed window and flags threshold crossings. Counter
// failures are logged and treated as "no anomaly".
type Intelligence struct {
	counter    WindowCounter
	window     time.Duration
	thresholds Thresholds
	logg       *logger.Logger
	now        func() time.Time
}

// NewIntelligence builds the anomaly detector. A nil counter disables detection.
func NewIntelligence(counter WindowCounter, window time.Duration, thresholds Thresholds, logg *logger.Logger) *Intelligence {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Intelligence{
		counter:    counter,
		window:     window,
		thresholds: thresholds,
		logg:       logg,
		now:        time.Now,
	}
}

// Observe counts one occurrence of eventType and reports an anomaly exactly when the
// window's count reaches the threshold.
func (i *Intelligence) Observe(ctx context.Context, eventType enums.SystemEventType) (Anomaly, bool) {
	if i == nil || i.counter == nil || i.window <= 0 {
		return Anomaly{}, false
	}
	threshold, ok := i.thresholds[eventType]
	if !ok || threshold <= 0 {
		return Anomaly{}, false
	}
	count, start, err := i.counter.WindowCount(ctx, "anomaly:"+eventType.String(), i.window, i.now())
	if err != nil {
		i.logg.Warn(i.logg.WithFields(ctx, map[string]any{
			"event_type": eventType,
			"error":      err.Error(),
		}), "anomaly counter unavailable")
		return Anomaly{}, false
	}
	if count != threshold {
		return Anomaly{}, false
	}
	return Anomaly{Type: eventType, Count: count, Threshold: threshold, WindowStart: start}, true
}
