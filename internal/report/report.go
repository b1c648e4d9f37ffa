// Package report builds the digest spreadsheet of a run and mails it to the
// operations address.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/providers"
	"device-notifier/internal/reference"
	"device-notifier/internal/runlog"
	"device-notifier/pkg/email"
)

const (
	SheetName   = "aparelhos_inativos"
	ColumnTitle = "Aparelhos Inativos"
	Subject     = "LOG DE APARELHOS INATIVOS"

	attachmentType = "application/vnd.ms-excel"
)

// Artifact describes the digest produced by a run.
type Artifact struct {
	Path string
	Rows []string
	// Sent is true when the digest email was accepted; the file is removed
	// in that case.
	Sent bool
}

// Options configures a Reporter.
type Options struct {
	ReportPath string
	From       string
	OpsAddress string
}

// Reporter produces the run digest.
type Reporter struct {
	mailer providers.Mailer
	runLog *runlog.Log
	logger *logging.Logger
	opts   Options
}

// New constructs a Reporter.
func New(mailer providers.Mailer, runLog *runlog.Log, logger *logging.Logger, opts Options) *Reporter {
	return &Reporter{mailer: mailer, runLog: runLog, logger: logger, opts: opts}
}

// Rows returns one digest line per candidate that reached at least one
// recipient, in dispatch order.
func Rows(outcomes []models.DispatchOutcome) []string {
	seen := make(map[int]bool)
	var rows []string
	for _, o := range outcomes {
		if !o.Success || seen[o.Candidate.Seq] {
			continue
		}
		seen[o.Candidate.Seq] = true
		rows = append(rows, fmt.Sprintf("ID: %s, Unidade: %s, Responsável: %s",
			o.Candidate.Device.ID, reference.NormalizeLocation(o.Candidate.Device.Location), o.Candidate.Owner))
	}
	return rows
}

// Summarize writes the digest spreadsheet and emails it. The artifact is
// deleted after a successful send and kept otherwise. The returned error is
// informational; callers never fail a run on it.
func (r *Reporter) Summarize(ctx context.Context, runID uuid.UUID, outcomes []models.DispatchOutcome) (*Artifact, error) {
	logger := r.logger.WithField("run_id", runID.String())
	art := &Artifact{Path: r.opts.ReportPath, Rows: Rows(outcomes)}

	if err := WriteSpreadsheet(art.Path, art.Rows); err != nil {
		r.appendRunLog(fmt.Sprintf("Erro ao enviar o relatório por e-mail: %v", err))
		return art, err
	}
	logger.Infof("Digest written to %s with %d rows", art.Path, len(art.Rows))

	if err := r.send(ctx, art); err != nil {
		logger.Errorf("Failed to send digest: %v", err)
		r.appendRunLog(fmt.Sprintf("Erro ao enviar o relatório por e-mail: %v", err))
		return art, err
	}
	art.Sent = true
	logger.Infof("Digest sent to %s", r.opts.OpsAddress)
	r.appendRunLog(fmt.Sprintf("Relatório enviado com sucesso para %s", r.opts.OpsAddress))

	if err := os.Remove(art.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Failed to remove digest %s: %v", art.Path, err)
	}
	return art, nil
}

func (r *Reporter) send(ctx context.Context, art *Artifact) error {
	if r.opts.OpsAddress == "" {
		return fmt.Errorf("no operations address configured")
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return fmt.Errorf("failed to read digest %s: %w", art.Path, err)
	}

	var body strings.Builder
	if err := digestTemplate.Execute(&body, art.Rows); err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	return r.mailer.Send(ctx, &email.Message{
		From:    r.opts.From,
		To:      []string{r.opts.OpsAddress},
		Subject: Subject,
		HTML:    body.String(),
		Date:    time.Now(),
		Attachments: []email.Part{{
			Filename:    filepath.Base(art.Path),
			ContentType: attachmentType,
			Data:        data,
		}},
	})
}

// NotifyChat posts a one-line summary of result to chat. A nil chat is a
// no-op and failures are only logged.
func NotifyChat(ctx context.Context, chat providers.ChatNotifier, logger *logging.Logger, result models.RunResult) {
	if chat == nil {
		return
	}
	if err := chat.Notify(ctx, Summary(result)); err != nil {
		logger.Errorf("Failed to send chat summary for run %s: %v", result.ID, err)
	}
}

// Summary renders result as a single line.
func Summary(result models.RunResult) string {
	line := fmt.Sprintf("Execução %s: %s. Aparelhos: %d, inativos: %d, e-mails enviados: %d/%d",
		result.ID.String()[:8], result.State, result.Devices, result.Candidates, result.Succeeded, result.Attempted)
	if result.DigestSent {
		line += ", relatório enviado"
	}
	if result.Error != "" {
		line += ". Erro: " + result.Error
	}
	return line
}

// WriteSpreadsheet writes rows under a single titled column, replacing any
// existing file.
func WriteSpreadsheet(path string, rows []string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetCellValue(SheetName, "A1", ColumnTitle); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, row); err != nil {
			return err
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report dir %s: %w", dir, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save digest %s: %w", path, err)
	}
	return nil
}

func (r *Reporter) appendRunLog(line string) {
	if r.runLog == nil {
		return
	}
	if err := r.runLog.Append(line); err != nil {
		r.logger.Errorf("Run log append failed: %v", err)
	}
}
