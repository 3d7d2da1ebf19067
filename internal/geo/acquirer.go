package geo

import (
	"context"
	"time"

	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/models"
)

// DefaultAcquireTimeout bounds a single position request.
const DefaultAcquireTimeout = 10 * time.Second

// PositionProvider yields the device's current position. Implementations must
// return a fresh fix on every call: cached fixes allow replay of stale
// locations. Highest available accuracy is expected.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (models.Coordinate, error)
}

// PositionFunc adapts a function to the PositionProvider interface.
type PositionFunc func(ctx context.Context) (models.Coordinate, error)

// CurrentPosition implements PositionProvider.
func (f PositionFunc) CurrentPosition(ctx context.Context) (models.Coordinate, error) {
	return f(ctx)
}

// Acquirer obtains the current position with bounded latency. Failures are
// absorbed: callers receive ok=false and decide whether to proceed without
// GPS. No automatic retry is performed; a retry is a fresh Acquire call.
type Acquirer struct {
	provider PositionProvider
	timeout  time.Duration
}

// NewAcquirer creates an Acquirer. A zero timeout uses DefaultAcquireTimeout.
func NewAcquirer(provider PositionProvider, timeout time.Duration) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return &Acquirer{provider: provider, timeout: timeout}
}

// Acquire requests the current position. It returns ok=false on timeout,
// permission denial, missing capability, or an out-of-range fix. There is no
// error return; the pipeline branches on the sentinel instead.
func (a *Acquirer) Acquire(ctx context.Context) (models.Coordinate, bool) {
	if a.provider == nil {
		return models.Coordinate{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	coord, err := a.provider.CurrentPosition(ctx)
	if err != nil {
		logging.Warn("position acquisition failed", map[string]interface{}{
			"timeout_ms": a.timeout.Milliseconds(),
			"reason":     err.Error(),
		})
		return models.Coordinate{}, false
	}
	if !coord.Valid() {
		logging.Warn("position fix out of range", map[string]interface{}{
			"latitude":  coord.Latitude,
			"longitude": coord.Longitude,
		})
		return models.Coordinate{}, false
	}
	return coord, true
}
