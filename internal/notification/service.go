package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/providers"
	"device-notifier/internal/reference"
	"device-notifier/internal/runlog"
	"device-notifier/pkg/email"
)

// LogoContentID is the Content-ID the message body references the logo by.
const LogoContentID = "urmobo.png"

// OutcomeRecorder persists dispatch outcomes.
type OutcomeRecorder interface {
	InsertOutcome(ctx context.Context, outcome models.DispatchOutcome) error
}

// Options configures a Dispatcher.
type Options struct {
	From     string
	LogoPath string
	Workers  int
	// Recorder is optional.
	Recorder OutcomeRecorder
}

// Dispatcher sends one notification per (candidate, recipient) pair.
type Dispatcher struct {
	mailer   providers.Mailer
	runLog   *runlog.Log
	logger   *logging.Logger
	recorder OutcomeRecorder
	from     string
	logoPath string
	workers  int
	now      func() time.Time
}

// New constructs a Dispatcher.
func New(mailer providers.Mailer, runLog *runlog.Log, logger *logging.Logger, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		mailer:   mailer,
		runLog:   runLog,
		logger:   logger,
		recorder: opts.Recorder,
		from:     opts.From,
		logoPath: opts.LogoPath,
		workers:  workers,
		now:      time.Now,
	}
}

type task struct {
	index     int
	candidate models.Candidate
	recipient string
}

// Dispatch sends every candidate to each of its recipients. A failed send
// is recorded as an outcome and never stops the others. Outcomes come back
// in (candidate, recipient) input order. Candidates without recipients
// produce no outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, runID uuid.UUID, candidates []models.Candidate) []models.DispatchOutcome {
	var tasks []task
	for _, c := range candidates {
		for _, r := range c.Recipients {
			tasks = append(tasks, task{index: len(tasks), candidate: c, recipient: r})
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	logo := d.loadLogo()
	outcomes := make([]models.DispatchOutcome, len(tasks))

	queue := make(chan task)
	var wg sync.WaitGroup
	workers := d.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for t := range queue {
				outcomes[t.index] = d.send(ctx, runID, t, logo)
			}
			d.logger.Debugf("Dispatch worker %d stopped", id)
		}(i)
	}
	for _, t := range tasks {
		queue <- t
	}
	close(queue)
	wg.Wait()

	return outcomes
}

// send performs exactly one attempt for t.
func (d *Dispatcher) send(ctx context.Context, runID uuid.UUID, t task, logo *email.Part) models.DispatchOutcome {
	dev := t.candidate.Device
	location := reference.NormalizeLocation(dev.Location)

	outcome := models.DispatchOutcome{
		RunID:     runID,
		Candidate: t.candidate,
		Recipient: t.recipient,
	}

	msg, err := d.compose(t.candidate, t.recipient, logo)
	if err == nil {
		err = d.mailer.Send(ctx, msg)
	}
	outcome.Timestamp = d.now()

	if err != nil {
		outcome.Error = err.Error()
		d.logger.Errorf("Failed to send notification for device %s to %s: %v", dev.ID, t.recipient, err)
		d.appendRunLog(fmt.Sprintf("Erro ao enviar o e-mail para %s: %v. ID: %s, Unidade: %s", t.recipient, err, dev.ID, location))
	} else {
		outcome.Success = true
		d.logger.Infof("Notification for device %s sent to %s", dev.ID, t.recipient)
		d.appendRunLog(fmt.Sprintf("E-mail enviado com sucesso para %s. ID: %s, Unidade: %s", t.recipient, dev.ID, location))
	}

	if d.recorder != nil {
		if err := d.recorder.InsertOutcome(ctx, outcome); err != nil {
			d.logger.Errorf("InsertOutcome failed for device %s: %v", dev.ID, err)
		}
	}
	return outcome
}

func (d *Dispatcher) compose(c models.Candidate, recipient string, logo *email.Part) (*email.Message, error) {
	var body strings.Builder
	if err := messageTemplate.Execute(&body, messageData{
		DeviceID: c.Device.ID,
		Owner:    c.Owner,
		Logo:     logo != nil,
		LogoSrc:  logoSrc,
	}); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	msg := &email.Message{
		From:    d.from,
		To:      []string{recipient},
		Subject: "REGISTRO DE APARELHO INATIVO - " + c.Device.ID,
		HTML:    body.String(),
		Date:    d.now(),
	}
	if logo != nil {
		msg.Inline = []email.Part{*logo}
	}
	return msg, nil
}

// loadLogo reads the logo once per dispatch. A missing file means messages
// go out without the image.
func (d *Dispatcher) loadLogo() *email.Part {
	if d.logoPath == "" {
		return nil
	}
	data, err := os.ReadFile(d.logoPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.logger.Warnf("Logo %s not found, sending without image", d.logoPath)
		} else {
			d.logger.Warnf("Failed to read logo %s: %v", d.logoPath, err)
		}
		return nil
	}
	return &email.Part{
		Filename:    filepath.Base(d.logoPath),
		ContentType: "image/png",
		ContentID:   LogoContentID,
		Data:        data,
	}
}

func (d *Dispatcher) appendRunLog(line string) {
	if d.runLog == nil {
		return
	}
	if err := d.runLog.Append(line); err != nil {
		d.logger.Errorf("Run log append failed: %v", err)
	}
}
