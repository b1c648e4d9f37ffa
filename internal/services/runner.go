package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"device-notifier/internal/config"
	"device-notifier/internal/devices"
	"device-notifier/internal/filter"
	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/notification"
	"device-notifier/internal/providers"
	"device-notifier/internal/reference"
	"device-notifier/internal/report"
	"device-notifier/internal/runlog"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunStore persists run history. InsertOutcome is called once per dispatch
// attempt.
type RunStore interface {
	CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, result models.RunResult) error
	InsertOutcome(ctx context.Context, outcome models.DispatchOutcome) error
}

// Deps are the collaborators of a Runner. LoadConfig and NewMailer are
// required; the rest are optional.
type Deps struct {
	LoadConfig func() (config.RunConfiguration, error)
	NewMailer  func(rc config.RunConfiguration) providers.Mailer
	HTTPClient *http.Client
	Store      RunStore
	Chat       providers.ChatNotifier
	Now        func() time.Time
}

// Runner executes notification runs, one at a time.
type Runner struct {
	deps    Deps
	logger  *logging.Logger
	running atomic.Bool

	mu        sync.RWMutex
	current   uuid.UUID
	state     models.RunState
	listeners []func(models.RunEvent)

	cron *cron.Cron
}

// New constructs a Runner.
func New(deps Deps, logger *logging.Logger) *Runner {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewMailer == nil {
		deps.NewMailer = func(rc config.RunConfiguration) providers.Mailer { return providers.NewSMTPMailer(rc) }
	}
	return &Runner{deps: deps, logger: logger, state: models.StateIdle}
}

// Logger exposes the Runner's logger to the Kafka consumer or caller.
func (r *Runner) Logger() *logging.Logger {
	return r.logger
}

// Subscribe registers fn for every state change. fn is called synchronously
// from the run goroutine. By the time the terminal event arrives the next run
// can already be started.
func (r *Runner) Subscribe(fn func(models.RunEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// State returns the id and state of the latest run.
func (r *Runner) State() (uuid.UUID, models.RunState) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.state
}

// Running reports whether a run is executing.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Start launches a run in the background. The returned channel yields the
// result once and is then closed.
func (r *Runner) Start(ctx context.Context) (uuid.UUID, <-chan models.RunResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return uuid.Nil, nil, ErrRunInProgress
	}
	id := uuid.New()
	r.setState(id, models.StateIdle, nil)

	done := make(chan models.RunResult, 1)
	go func() {
		result := r.execute(context.WithoutCancel(ctx), id)
		done <- result
		close(done)
	}()
	return id, done, nil
}

// Run executes a run on the calling goroutine.
func (r *Runner) Run(ctx context.Context) (models.RunResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return models.RunResult{}, ErrRunInProgress
	}

	id := uuid.New()
	r.setState(id, models.StateIdle, nil)
	result := r.execute(context.WithoutCancel(ctx), id)
	return result, result.Err
}

// Schedule starts runs on a cron expression. A tick that finds a run in flight is
// skipped.
func (r *Runner) Schedule(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		id, _, err := r.Start(context.Background())
		if err != nil {
			r.logger.Warnf("Scheduled run skipped: %v", err)
			return
		}
		r.logger.Infof("Scheduled run %s started", id)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	r.logger.Infof("Runs scheduled with %q", spec)
	return nil
}

// StopSchedule stops the cron scheduler, if any. It does not wait for an
// in-flight run.
func (r *Runner) StopSchedule() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Runner) setState(id uuid.UUID, state models.RunState, result *models.RunResult) {
	event, listeners := r.record(id, state, result)
	publish(event, listeners)
}

// record stores the state and returns the event to publish with a snapshot
// of the listeners.
func (r *Runner) record(id uuid.UUID, state models.RunState, result *models.RunResult) (models.RunEvent, []func(models.RunEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
	r.state = state
	listeners := append([]func(models.RunEvent){}, r.listeners...)
	return models.RunEvent{RunID: id, State: state, Time: r.deps.Now(), Result: result}, listeners
}

func publish(event models.RunEvent, listeners []func(models.RunEvent)) {
	for _, fn := range listeners {
		fn(event)
	}
}

// execute runs the pipeline. It always produces exactly one terminal result
// and releases the single-run guard before the terminal event is published.
func (r *Runner) execute(ctx context.Context, id uuid.UUID) (result models.RunResult) {
	logger := r.logger.WithField("run_id", id.String())
	result = models.RunResult{ID: id, StartedAt: r.deps.Now()}

	var (
		rl     *runlog.Log
		source *devices.Source
	)

	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("run panicked: %v", p)
		}
		if source != nil {
			if err := source.Invalidate(); err != nil {
				logger.Warnf("Failed to delete device cache: %v", err)
			}
		}
		result.FinishedAt = r.deps.Now()
		if result.Err != nil {
			result.State = models.StateFailed
			result.Error = result.Err.Error()
			logger.Errorf("Run failed: %v", result.Err)
			if rl != nil {
				if err := rl.Append("Erro durante o envio: " + result.Error); err != nil {
					logger.Errorf("Run log append failed: %v", err)
				}
			}
		} else {
			result.State = models.StateDone
			logger.Infof("Run finished: %d devices, %d inactive, %d/%d e-mails sent",
				result.Devices, result.Candidates, result.Succeeded, result.Attempted)
		}
		if r.deps.Store != nil {
			if err := r.deps.Store.FinishRun(ctx, result); err != nil {
				logger.Errorf("FinishRun failed: %v", err)
			}
		}
		report.NotifyChat(ctx, r.deps.Chat, logger, result)
		final := result
		event, listeners := r.record(id, result.State, &final)
		r.running.Store(false)
		publish(event, listeners)
	}()

	r.setState(id, models.StateFetching, nil)
	rc, err := r.deps.LoadConfig()
	if err != nil {
		result.Err = err
		return result
	}
	if rl, err = runlog.Open(rc.RunLogPath); err != nil {
		result.Err = err
		return result
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.CreateRun(ctx, id, result.StartedAt); err != nil {
			logger.Errorf("CreateRun failed: %v", err)
		}
	}

	source = devices.NewSource(rc.DeviceAPIURL, rc.CachePath, r.deps.HTTPClient, logger, rc.FetchAttempts)
	devs, err := source.Fetch(ctx, rc.API)
	if err != nil {
		result.Err = err
		return result
	}
	result.Devices = len(devs)
	logger.Infof("Fetched %d devices", len(devs))

	r.setState(id, models.StateFiltering, nil)
	owners, err := reference.LoadOwnership(rc.OwnershipPath)
	if err != nil {
		result.Err = err
		return result
	}
	contacts, err := reference.LoadContacts(rc.ContactsPath)
	if err != nil {
		result.Err = err
		return result
	}
	for _, location := range reference.Coverage(devs, contacts) {
		logger.Warnf("No contact row for location %q", location)
	}
	candidates := filter.Filter(devs, owners, contacts, rc.ThresholdDays, r.deps.Now())
	result.Candidates = len(candidates)
	for _, c := range candidates {
		logger.Infof("Processing device ID: %s, location: %s", c.Device.ID, reference.NormalizeLocation(c.Device.Location))
	}

	r.setState(id, models.StateDispatching, nil)
	mailer := r.deps.NewMailer(rc)
	var recorder notification.OutcomeRecorder
	if r.deps.Store != nil {
		recorder = r.deps.Store
	}
	dispatcher := notification.New(mailer, rl, logger, notification.Options{
		From:     rc.From,
		LogoPath: rc.LogoPath,
		Workers:  rc.MaxWorkers,
		Recorder: recorder,
	})
	outcomes := dispatcher.Dispatch(ctx, id, candidates)
	result.Attempted = len(outcomes)
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	r.appendRunLog(logger, rl, "Envio de e-mails concluído.")

	r.setState(id, models.StateReporting, nil)
	if rc.DigestEnabled {
		reporter := report.New(mailer, rl, logger, report.Options{
			ReportPath: rc.ReportPath,
			From:       rc.From,
			OpsAddress: rc.OpsAddress,
		})
		art, err := reporter.Summarize(ctx, id, outcomes)
		if err != nil {
			logger.Warnf("Digest not delivered: %v", err)
		}
		if art != nil {
			result.DigestSent = art.Sent
			if !art.Sent {
				result.ReportPath = art.Path
			}
		}
	}
	r.appendRunLog(logger, rl, "Programa concluído.")
	return result
}

func (r *Runner) appendRunLog(logger *logging.Logger, rl *runlog.Log, line string) {
	if err := rl.Append(line); err != nil {
		logger.Errorf("Run log append failed: %v", err)
	}
}
