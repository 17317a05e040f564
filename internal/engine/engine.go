// Package engine owns the lifecycle of generation jobs: submission with a
// concurrency ceiling, persisted pending records, fixed-interval status
// polling and reconciliation into terminal states.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixverse/internal/domain"
	"pixverse/internal/infra"
	"pixverse/internal/pixverse"
	"pixverse/internal/store"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxActive    = 2
	eventBuffer         = 64
)

// API is the slice of the remote generation service the engine drives.
type API interface {
	Generate(ctx context.Context, req pixverse.GenerateRequest) (pixverse.Generation, error)
	GenerationStatus(ctx context.Context, generationID string) (pixverse.Status, error)
}

// EventType tags engine notifications.
type EventType string

const (
	// EventSubmitted fires when the service accepted a submission and a
	// pending record was persisted.
	EventSubmitted EventType = "submitted"
	// EventFinished fires once per job on terminal success.
	EventFinished EventType = "finished"
	// EventFailed fires once per job on submission failure or a terminal
	// remote error.
	EventFailed EventType = "failed"
	// EventStalled fires when polling stopped on a hard transport error;
	// the job remains pending and Retry may resume it.
	EventStalled EventType = "stalled"
)

// Event is one observer notification.
type Event struct {
	Type EventType
	Job  domain.GenerationJob
	Err  error
}

// SubmitRequest carries everything needed to start one generation.
type SubmitRequest struct {
	TemplateID string
	Effect     string
	ImagePath  string
}

// Options wires an Engine. Store, Client and Credits are required.
type Options struct {
	Store        store.Store
	Client       API
	Credits      *CreditLedger
	Logger       infra.Logger
	UserID       string
	PollInterval time.Duration
	MaxActive    int
}

// Engine is the submission and polling core. All exported methods are safe
// for concurrent use.
type Engine struct {
	store        store.Store
	client       API
	credits      *CreditLedger
	logger       infra.Logger
	userID       string
	pollInterval time.Duration
	maxActive    int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	events  chan Event

	mu     sync.Mutex
	active map[string]*run
	closed bool
}

// run is the in-flight bookkeeping for one job. state and the refund flags
// are guarded by the engine mutex.
type run struct {
	jobID        string
	generationID string
	state        domain.JobState
	reserved     bool
	refunded     bool
	cancel       context.CancelFunc
}

// New constructs an Engine. It does not touch the network; call Recover to
// resume jobs left pending by a previous process.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("engine: client is required")
	}
	if opts.Credits == nil {
		return nil, errors.New("engine: credit ledger is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxActive := opts.MaxActive
	if maxActive <= 0 {
		maxActive = defaultMaxActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:        opts.Store,
		client:       opts.Client,
		credits:      opts.Credits,
		logger:       opts.Logger,
		userID:       opts.UserID,
		pollInterval: interval,
		maxActive:    maxActive,
		baseCtx:      ctx,
		stop:         cancel,
		events:       make(chan Event, eventBuffer),
		active:       make(map[string]*run),
	}, nil
}

// Events returns the observer channel. Terminal outcomes are delivered at
// most once per job; events are dropped (and logged) if the observer stops
// draining.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Submit validates the request, reserves a generation credit, submits the
// job to the remote service and, on acceptance, persists the pending record
// and starts polling. A capacity rejection returns domain.ErrCapacity and
// creates no record.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (domain.GenerationJob, error) {
	if req.TemplateID == "" {
		return domain.GenerationJob{}, &domain.InvalidInputError{Field: "templateId", Reason: "missing template selection"}
	}
	if req.ImagePath == "" {
		return domain.GenerationJob{}, &domain.InvalidInputError{Field: "image", Reason: "missing source image"}
	}
	if _, err := os.Stat(req.ImagePath); err != nil {
		return domain.GenerationJob{}, &domain.InvalidInputError{Field: "image", Reason: "source image not readable"}
	}

	jobID := uuid.New().String()
	r := &run{jobID: jobID, state: domain.JobStateSubmitting}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.GenerationJob{}, errors.New("engine: closed")
	}
	if len(e.active) >= e.maxActive {
		e.mu.Unlock()
		return domain.GenerationJob{}, domain.ErrCapacity
	}
	e.active[jobID] = r
	e.mu.Unlock()

	first, err := e.credits.Reserve()
	if err != nil {
		e.logger.Warn().Err(err).Msg("engine: credit ledger write failed")
	}
	r.reserved = first

	gen, err := e.client.Generate(ctx, pixverse.GenerateRequest{
		TemplateID: req.TemplateID,
		UserID:     e.userID,
		ImagePath:  req.ImagePath,
	})
	if err != nil {
		e.mu.Lock()
		e.refundLocked(r)
		delete(e.active, jobID)
		e.mu.Unlock()
		e.logger.Error().Err(err).Str("template_id", req.TemplateID).Msg("engine: submission failed")
		e.emit(Event{Type: EventFailed, Job: domain.GenerationJob{ID: jobID, DisplayName: req.Effect}, Err: err})
		return domain.GenerationJob{}, fmt.Errorf("submit generation: %w", err)
	}

	job := domain.GenerationJob{
		ID:              jobID,
		ServerJobID:     gen.ID,
		DisplayName:     req.Effect,
		SourceImagePath: domain.String(req.ImagePath),
		Finished:        domain.Bool(false),
		CreatedAt:       time.Now().UTC(),
	}
	if stored, err := e.store.Put(ctx, job); err != nil {
		// Storage failures are non-fatal: polling proceeds on the in-memory
		// record and the next write retries.
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("engine: persist pending record failed")
	} else {
		job = stored
	}

	e.mu.Lock()
	r.generationID = gen.ID
	r.state = domain.JobStatePending
	e.startPollLocked(r, false)
	e.mu.Unlock()

	e.logger.Info().
		Str("job_id", jobID).
		Str("generation_id", gen.ID).
		Str("template_id", req.TemplateID).
		Msg("engine: job submitted")
	e.emit(Event{Type: EventSubmitted, Job: job})

	return job, nil
}

// Retry resumes polling for an unfinished job after a stall or failure,
// reusing the stored parameters. It fails fast with InvalidInputError when
// the source image is no longer on disk.
func (e *Engine) Retry(ctx context.Context, jobID string) error {
	jobs, err := e.store.GetAll(ctx)
	if err != nil {
		return err
	}
	var rec domain.GenerationJob
	found := false
	for _, j := range jobs {
		if j.ID == jobID {
			rec = j
			found = true
			break
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	if rec.IsFinished() {
		return nil
	}
	if rec.ServerJobID == "" {
		return domain.ErrNotFound
	}
	// The stored image path must still resolve on disk; a resubmission
	// without the source photo cannot succeed.
	if rec.SourceImagePath == nil {
		return &domain.InvalidInputError{Field: "image", Reason: "record has no source image"}
	}
	if _, err := os.Stat(*rec.SourceImagePath); err != nil {
		return &domain.InvalidInputError{Field: "image", Reason: "source image no longer on disk"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine: closed")
	}
	if _, running := e.active[jobID]; running {
		return nil
	}
	if len(e.active) >= e.maxActive {
		return domain.ErrCapacity
	}
	r := &run{jobID: jobID, generationID: rec.ServerJobID, state: domain.JobStatePending}
	e.active[jobID] = r
	e.startPollLocked(r, true)
	return nil
}

// Recover reconciles jobs left pending by a previous process: each gets one
// immediate status check, then resumes periodic polling if still pending.
// It returns the number of jobs resumed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	jobs, err := e.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("engine: closed")
	}
	for _, rec := range jobs {
		if rec.IsFinished() || rec.ServerJobID == "" {
			continue
		}
		if _, running := e.active[rec.ID]; running {
			continue
		}
		r := &run{jobID: rec.ID, generationID: rec.ServerJobID, state: domain.JobStatePending}
		e.active[rec.ID] = r
		e.startPollLocked(r, true)
		resumed++
	}
	if resumed > 0 {
		e.logger.Info().Int("jobs", resumed).Msg("engine: resumed pending generations")
	}
	return resumed, nil
}

// Delete stops any active polling for the job and removes its record and
// cached media. Deleting an unknown id is a no-op.
func (e *Engine) Delete(ctx context.Context, jobID string) error {
	e.mu.Lock()
	if r, ok := e.active[jobID]; ok {
		r.state = domain.JobStateFailed
		if r.cancel != nil {
			r.cancel()
		}
		delete(e.active, jobID)
	}
	e.mu.Unlock()
	return e.store.Delete(ctx, jobID)
}

// Close stops all poll loops, waits for them to exit and closes the event
// channel.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
	close(e.events)
}

// startPollLocked launches the poll loop for r. Caller holds e.mu.
func (e *Engine) startPollLocked(r *run, immediate bool) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	r.cancel = cancel
	e.wg.Add(1)
	go e.poll(ctx, r, immediate)
}

// poll drives one job to a terminal state. At most one status request is
// outstanding at a time: the next tick is not scheduled until the previous
// response has been handled.
func (e *Engine) poll(ctx context.Context, r *run, immediate bool) {
	defer e.wg.Done()

	if immediate {
		if e.checkOnce(ctx, r) {
			return
		}
	}

	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if e.checkOnce(ctx, r) {
			return
		}
		timer.Reset(e.pollInterval)
	}
}

// checkOnce performs a single status reconciliation. It reports whether the
// poll loop should stop.
func (e *Engine) checkOnce(ctx context.Context, r *run) bool {
	status, err := e.client.GenerationStatus(ctx, r.generationID)

	// A late response for a job that already reached a terminal state (or
	// was deleted) is discarded.
	if e.isStopped(r) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}

	if err != nil {
		return e.handlePollError(r, err)
	}

	switch status.State {
	case pixverse.StatusFinished:
		if status.ResultURL == "" {
			e.logger.Warn().Str("generation_id", r.generationID).Msg("engine: finished status without result url")
			return false
		}
		job, perr := e.store.Complete(context.WithoutCancel(ctx), r.generationID, status.ResultURL)
		if perr != nil {
			e.logger.Warn().Err(perr).Str("generation_id", r.generationID).Msg("engine: persist terminal state failed")
			job = domain.GenerationJob{
				ID:          r.jobID,
				ServerJobID: r.generationID,
				ResultURL:   domain.String(status.ResultURL),
				Finished:    domain.Bool(true),
			}
		}
		e.settle(r, domain.JobStateFinished, Event{Type: EventFinished, Job: job})
		e.logger.Info().Str("generation_id", r.generationID).Msg("engine: generation finished")
		return true

	case pixverse.StatusError:
		e.logger.Error().Str("generation_id", r.generationID).Msg("engine: generation failed remotely")
		e.settle(r, domain.JobStateFailed, Event{
			Type: EventFailed,
			Job:  e.snapshot(r),
			Err:  &domain.RemoteGenerationError{},
		})
		return true

	default:
		e.logger.Debug().
			Str("generation_id", r.generationID).
			Str("status", status.State).
			Int("progress", status.Progress).
			Msg("engine: generation still processing")
		return false
	}
}

// handlePollError classifies a status-poll failure. Decode failures and 5xx
// responses are transient and retried on the next tick; a remote-reported
// error is terminal; any other transport failure stalls the job for a
// manual retry.
func (e *Engine) handlePollError(r *run, err error) bool {
	var (
		te *domain.TransportError
		de *domain.DecodeError
		re *domain.RemoteGenerationError
	)
	switch {
	case errors.As(err, &de):
		e.logger.Warn().Err(err).Str("generation_id", r.generationID).Msg("engine: malformed status response, retrying")
		return false
	case errors.As(err, &te) && te.Retryable():
		e.logger.Warn().Int("status", te.StatusCode).Str("generation_id", r.generationID).Msg("engine: server error, retrying")
		return false
	case errors.As(err, &re):
		e.settle(r, domain.JobStateFailed, Event{Type: EventFailed, Job: e.snapshot(r), Err: err})
		return true
	default:
		e.logger.Error().Err(err).Str("generation_id", r.generationID).Msg("engine: polling stopped")
		e.settle(r, domain.JobStateFailed, Event{Type: EventStalled, Job: e.snapshot(r), Err: err})
		return true
	}
}

// settle moves r out of the active set exactly once, refunding a reserved
// credit on failure, and emits the outcome event.
func (e *Engine) settle(r *run, state domain.JobState, ev Event) {
	e.mu.Lock()
	if r.state == domain.JobStateFinished || r.state == domain.JobStateFailed {
		e.mu.Unlock()
		return
	}
	r.state = state
	if state == domain.JobStateFailed {
		e.refundLocked(r)
	}
	delete(e.active, r.jobID)
	e.mu.Unlock()

	e.emit(ev)
}

// refundLocked returns a reserved first-generation credit at most once.
// Caller holds e.mu.
func (e *Engine) refundLocked(r *run) {
	if !r.reserved || r.refunded {
		return
	}
	r.refunded = true
	if err := e.credits.Refund(); err != nil {
		e.logger.Warn().Err(err).Msg("engine: credit refund write failed")
	}
}

func (e *Engine) isStopped(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.state == domain.JobStateFinished || r.state == domain.JobStateFailed
}

// snapshot reads the job's stored record best-effort for event payloads.
func (e *Engine) snapshot(r *run) domain.GenerationJob {
	if rec, err := e.store.GetByServerJobID(context.Background(), r.generationID); err == nil {
		return rec
	}
	return domain.GenerationJob{ID: r.jobID, ServerJobID: r.generationID}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn().Str("type", string(ev.Type)).Msg("engine: observer not draining, dropping event")
	}
}
