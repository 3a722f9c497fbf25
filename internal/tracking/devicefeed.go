package tracking

import (
	"context"
	"sync"
)

// DeviceFeed is the PositionWatcher fed by the UI shell: the platform's
// geolocation API lives on the device side, so the shell reports every fix
// and permission change here and the pipeline consumes them as a watch
// subscription.
type DeviceFeed struct {
	mu     sync.Mutex
	denied bool
	subs   map[*feedWatch]struct{}
}

// NewDeviceFeed creates an empty feed
func NewDeviceFeed() *DeviceFeed {
	return &DeviceFeed{subs: make(map[*feedWatch]struct{})}
}

// Watch subscribes to reported positions. Returns ErrPermissionDenied if the
// shell has reported a refusal.
func (f *DeviceFeed) Watch(ctx context.Context) (Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		return nil, ErrPermissionDenied
	}

	w := &feedWatch{
		feed:      f,
		positions: make(chan Position, 16),
		errors:    make(chan error, 4),
	}
	f.subs[w] = struct{}{}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return w, nil
}

// Report delivers one device fix to every active subscription. Fixes are
// dropped, not queued, when a subscriber lags.
func (f *DeviceFeed) Report(pos Position) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for w := range f.subs {
		select {
		case w.positions <- pos:
		default:
		}
	}
}

// ReportError delivers a transient fix error (timeout, position unavailable)
func (f *DeviceFeed) ReportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for w := range f.subs {
		select {
		case w.errors <- err:
		default:
		}
	}
}

// SetDenied records whether the platform refused location access. Active
// subscriptions get ErrPermissionDenied; future Watch calls fail up front
// until the shell reports access restored.
func (f *DeviceFeed) SetDenied(denied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.denied = denied
	if !denied {
		return
	}
	for w := range f.subs {
		select {
		case w.errors <- ErrPermissionDenied:
		default:
		}
	}
}

func (f *DeviceFeed) drop(w *feedWatch) {
	f.mu.Lock()
	delete(f.subs, w)
	f.mu.Unlock()
}

type feedWatch struct {
	feed      *DeviceFeed
	positions chan Position
	errors    chan error
	stopOnce  sync.Once
}

func (w *feedWatch) Positions() <-chan Position { return w.positions }
func (w *feedWatch) Errors() <-chan error       { return w.errors }

func (w *feedWatch) Stop() {
	w.stopOnce.Do(func() {
		w.feed.drop(w)
		close(w.positions)
	})
}
