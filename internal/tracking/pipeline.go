package tracking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/models"
)

// Status is the pipeline's observable state
type Status string

const (
	StatusIdle             Status = "idle"
	StatusTracking         Status = "tracking"
	StatusPermissionDenied Status = "permission_denied"
)

// Uploader sends a batch of fixes to the server
type Uploader interface {
	UploadLocations(ctx context.Context, fixes []models.LocationFix) error
}

// Online reports current connectivity
type Online interface {
	IsOnline() bool
}

// Pipeline samples device position while the technician has active work,
// filters fixes by minimum displacement, buffers them in the location queue
// and periodically uploads batches.
//
// Tracking requires both granted consent and at least one assigned job in
// travelling or in_progress; losing either condition stops the watch
// subscription synchronously and flushes once, best effort.
type Pipeline struct {
	fixes    FixStore
	watcher  PositionWatcher
	uploader Uploader
	online   Online

	minDisplacement float64
	uploadInterval  time.Duration
	pruneSynced     bool
	onStatus        func(Status)

	// evalMu serializes the Idle↔Tracking transitions; concurrent consent
	// and job updates must never observe a stale status and double-start
	// the watch subscription.
	evalMu sync.Mutex

	mu          sync.Mutex
	status      Status
	consent     string
	jobs        []models.Job
	lastStored  *models.LocationFix
	watch       Watch
	cancelWatch context.CancelFunc
	stopLoop    chan struct{}
	uploadReq   chan struct{}
}

// Config bundles pipeline tunables
type Config struct {
	MinDisplacementMeters float64
	UploadInterval        time.Duration
	PruneSynced           bool
}

// New creates the pipeline in Idle state. onStatus may be nil.
func New(fixes FixStore, watcher PositionWatcher, uploader Uploader, online Online, cfg Config, onStatus func(Status)) *Pipeline {
	if cfg.MinDisplacementMeters <= 0 {
		cfg.MinDisplacementMeters = 10
	}
	if cfg.UploadInterval <= 0 {
		cfg.UploadInterval = time.Minute
	}
	p := &Pipeline{
		fixes:           fixes,
		watcher:         watcher,
		uploader:        uploader,
		online:          online,
		minDisplacement: cfg.MinDisplacementMeters,
		uploadInterval:  cfg.UploadInterval,
		pruneSynced:     cfg.PruneSynced,
		onStatus:        onStatus,
		status:          StatusIdle,
		consent:         models.ConsentPending,
		uploadReq:       make(chan struct{}, 1),
	}
	if value, err := fixes.LoadConsent(); err == nil && value != "" {
		p.consent = value
	}
	return p
}

// Status returns the pipeline's current state
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Consent returns the persisted tracking consent value
func (p *Pipeline) Consent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consent
}

// SetConsent persists a consent decision and re-evaluates the state machine.
// Revoking while tracking stops fix storage immediately.
func (p *Pipeline) SetConsent(value string) error {
	if err := p.fixes.SaveConsent(value); err != nil {
		return err
	}

	p.mu.Lock()
	p.consent = value
	p.mu.Unlock()

	p.evaluate()
	return nil
}

// UpdateJobs feeds the pipeline the technician's current assigned jobs.
// Called whenever the job cache changes.
func (p *Pipeline) UpdateJobs(jobs []models.Job) {
	p.mu.Lock()
	p.jobs = jobs
	p.mu.Unlock()

	p.evaluate()
}

// RequestUpload asks for a batch upload outside the timer, used on the
// offline→online transition
func (p *Pipeline) RequestUpload() {
	select {
	case p.uploadReq <- struct{}{}:
	default:
	}
}

// Stop tears the pipeline down
func (p *Pipeline) Stop() {
	p.mu.Lock()
	tracking := p.status == StatusTracking
	p.mu.Unlock()
	if tracking {
		p.stopTracking()
	}
}

// evaluate drives the Idle↔Tracking state machine
func (p *Pipeline) evaluate() {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	p.mu.Lock()
	shouldTrack := p.consent == models.ConsentGranted && hasActiveJob(p.jobs)
	status := p.status
	consent := p.consent
	p.mu.Unlock()

	switch {
	case shouldTrack && status != StatusTracking:
		p.startTracking()
	case !shouldTrack && status == StatusTracking:
		p.stopTracking()
	case !shouldTrack && status == StatusPermissionDenied && consent != models.ConsentGranted:
		// Leaving the denied state requires a fresh grant anyway
		p.setStatus(StatusIdle)
	}
}

func hasActiveJob(jobs []models.Job) bool {
	for _, j := range jobs {
		if j.Status == models.JobStatusTravelling || j.Status == models.JobStatusInProgress {
			return true
		}
	}
	return false
}

// primaryJob picks the job fixes are tagged with, preferring in_progress
// over travelling when multiple qualify
func primaryJob(jobs []models.Job) *models.Job {
	var travelling *models.Job
	for i := range jobs {
		switch jobs[i].Status {
		case models.JobStatusInProgress:
			return &jobs[i]
		case models.JobStatusTravelling:
			if travelling == nil {
				travelling = &jobs[i]
			}
		}
	}
	return travelling
}

func (p *Pipeline) startTracking() {
	ctx, cancel := context.WithCancel(context.Background())

	watch, err := p.watcher.Watch(ctx)
	if err != nil {
		cancel()
		if err == ErrPermissionDenied {
			log.Println("📵 Location permission denied, tracking stays inactive")
			p.setStatus(StatusPermissionDenied)
			return
		}
		log.Printf("⚠️ Failed to start position watch: %v", err)
		p.setStatus(StatusIdle)
		return
	}

	p.mu.Lock()
	p.watch = watch
	p.cancelWatch = cancel
	p.lastStored = nil
	p.stopLoop = make(chan struct{})
	stopLoop := p.stopLoop
	p.status = StatusTracking
	p.mu.Unlock()

	p.notify(StatusTracking)
	log.Println("📍 Location tracking started")

	go p.consume(watch, stopLoop)
	go p.uploadLoop(stopLoop)
}

// stopTracking cancels the watch and the upload timer synchronously, then
// performs one final best-effort flush
func (p *Pipeline) stopTracking() {
	p.mu.Lock()
	if p.status != StatusTracking {
		p.mu.Unlock()
		return
	}
	watch := p.watch
	cancel := p.cancelWatch
	stopLoop := p.stopLoop
	p.watch = nil
	p.cancelWatch = nil
	p.stopLoop = nil
	p.status = StatusIdle
	p.mu.Unlock()

	if watch != nil {
		watch.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if stopLoop != nil {
		close(stopLoop)
	}

	p.notify(StatusIdle)
	log.Println("🛑 Location tracking stopped")

	// Final flush so the last leg of travel is not stranded locally
	ctx, cancelFlush := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelFlush()
	p.uploadBatch(ctx)
}

// consume stores displacement-filtered fixes from the watch subscription
func (p *Pipeline) consume(watch Watch, stop <-chan struct{}) {
	for {
		select {
		case pos, ok := <-watch.Positions():
			if !ok {
				return
			}
			p.storeFix(pos)
		case err, ok := <-watch.Errors():
			if !ok {
				return
			}
			if errors.Is(err, ErrPermissionDenied) {
				log.Println("📵 Location permission revoked mid-watch")
				go func() {
					p.stopTracking()
					p.setStatus(StatusPermissionDenied)
				}()
				return
			}
			// Transient fix errors never stop the subscription
			log.Printf("⚠️ Position fix error: %v", err)
		case <-stop:
			return
		}
	}
}

// storeFix applies the displacement filter and persists an accepted fix
func (p *Pipeline) storeFix(pos Position) {
	p.mu.Lock()
	if p.status != StatusTracking {
		// Revoked or stopped after this fix was emitted; drop it
		p.mu.Unlock()
		return
	}

	if p.lastStored != nil {
		d := Haversine(p.lastStored.Latitude, p.lastStored.Longitude, pos.Latitude, pos.Longitude)
		if d < p.minDisplacement {
			p.mu.Unlock()
			return
		}
	}

	fix := models.LocationFix{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		RecordedAt: pos.At,
	}
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = time.Now().UTC()
	}
	if job := primaryJob(p.jobs); job != nil {
		jobID := job.ID
		fix.JobID = &jobID
		fix.JobStatus = job.Status
	}
	p.mu.Unlock()

	if err := p.fixes.Insert(&fix); err != nil {
		// The fix never reached the store, so it must not become the filter
		// anchor: later fixes are still compared against the last fix that
		// actually persisted.
		log.Printf("⚠️ Failed to store location fix: %v", err)
		return
	}

	p.mu.Lock()
	p.lastStored = &fix
	p.mu.Unlock()
}

// uploadLoop drains the location queue on a timer and on demand
func (p *Pipeline) uploadLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(p.uploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.uploadBatch(context.Background())
		case <-p.uploadReq:
			p.uploadBatch(context.Background())
		case <-stop:
			return
		}
	}
}

// uploadBatch sends all unsynced fixes as one request and marks them synced
// on acknowledgement. On failure everything stays queued for the next cycle.
func (p *Pipeline) uploadBatch(ctx context.Context) {
	if !p.online.IsOnline() {
		return
	}

	fixes, err := p.fixes.Unsynced()
	if err != nil {
		log.Printf("⚠️ Failed to read location queue: %v", err)
		return
	}
	if len(fixes) == 0 {
		return
	}

	if err := p.uploader.UploadLocations(ctx, fixes); err != nil {
		log.Printf("⚠️ Location batch upload failed (%d fixes retained): %v", len(fixes), err)
		return
	}

	ids := make([]int64, 0, len(fixes))
	for _, f := range fixes {
		ids = append(ids, f.ID)
	}

	if p.pruneSynced {
		if err := p.fixes.Prune(ids); err != nil {
			log.Printf("⚠️ Failed to prune synced fixes: %v", err)
		}
	} else {
		if err := p.fixes.MarkSynced(ids); err != nil {
			log.Printf("⚠️ Failed to mark fixes synced: %v", err)
		}
	}

	log.Printf("📤 Uploaded %d location fixes", len(fixes))
}

func (p *Pipeline) setStatus(status Status) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()
	if changed {
		p.notify(status)
	}
}

func (p *Pipeline) notify(status Status) {
	if p.onStatus != nil {
		p.onStatus(status)
	}
}
