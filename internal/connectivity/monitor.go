package connectivity

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// Event is one online/offline transition
type Event struct {
	Online bool
	At     time.Time
}

// Probe reports whether the remote API is reachable right now
type Probe func() bool

// Monitor watches connectivity to the remote API and fans out transitions.
// The sync manager and the location pipeline both subscribe; an
// offline→online edge is what triggers their respective drains.
type Monitor struct {
	mu sync.Mutex

	probe    Probe
	interval time.Duration
	online   bool
	started  bool
	stopChan chan struct{}
	subs     []chan Event
}

// NewMonitor creates a monitor probing the given API base URL
func NewMonitor(baseURL string, interval time.Duration) *Monitor {
	client := &http.Client{Timeout: 5 * time.Second}
	probe := func() bool {
		resp, err := client.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}
	return NewMonitorWithProbe(probe, interval)
}

// NewMonitorWithProbe creates a monitor with a custom reachability probe
func NewMonitorWithProbe(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic probing
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
}

// Stop halts probing
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stopChan)
}

// IsOnline returns the last observed connectivity state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel delivering every transition. The channel is
// buffered; a slow consumer drops events rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline force-feeds a connectivity observation. Platform layers that
// receive native online/offline signals call this instead of waiting for the
// next probe.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		log.Println("🌐 Connectivity: online")
	} else {
		log.Println("📴 Connectivity: offline")
	}

	ev := Event{Online: online, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Monitor) loop() {
	// Probe immediately so startup state is right, then on the ticker
	m.SetOnline(m.probe())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SetOnline(m.probe())
		case <-m.stopChan:
			return
		}
	}
}
