package tracking

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied means the platform refused location access. The
// pipeline surfaces this as a distinct state, not an error, and does not
// retry; the technician must re-grant access.
var ErrPermissionDenied = errors.New("location permission denied")

// Position is one raw device fix from the platform
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// Watch is a live position subscription. Transient fix errors (timeout,
// position unavailable) arrive on Errors without closing Positions.
type Watch interface {
	Positions() <-chan Position
	Errors() <-chan error
	Stop()
}

// PositionWatcher is the platform geolocation collaborator. Watch returns
// ErrPermissionDenied when access is refused up front.
type PositionWatcher interface {
	Watch(ctx context.Context) (Watch, error)
}
