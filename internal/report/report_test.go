package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/runlog"
	"device-notifier/pkg/email"
)

type fakeMailer struct {
	sent []*email.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg *email.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeChat struct {
	texts []string
	err   error
}

func (f *fakeChat) Notify(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func outcome(seq int, id, location, owner, recipient string, ok bool) models.DispatchOutcome {
	return models.DispatchOutcome{
		Candidate: models.Candidate{
			Seq:    seq,
			Device: models.DeviceRecord{ID: id, Location: location, Active: true},
			Owner:  owner,
		},
		Recipient: recipient,
		Success:   ok,
	}
}

func sampleOutcomes() []models.DispatchOutcome {
	return []models.DispatchOutcome{
		outcome(0, "1", "Produção SP", "Ana", "a@x.com", true),
		outcome(0, "1", "Produção SP", "Ana", "b@x.com", true),
		outcome(1, "2", "RJ", "Bia", "c@x.com", false),
		outcome(2, "3", "Apoio MG", models.OwnerNotFound, "d@x.com", true),
	}
}

func newReporter(t *testing.T, m *fakeMailer, opts Options) (*Reporter, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.txt")
	rl, err := runlog.Open(logPath)
	require.NoError(t, err)
	if opts.ReportPath == "" {
		opts.ReportPath = filepath.Join(dir, "aparelhos_inativos.xlsx")
	}
	opts.From = "ti@example.com"
	return New(m, rl, logging.Nop(), opts), logPath
}

func TestRows_OnePerDeliveredCandidate(t *testing.T) {
	assert.Equal(t, []string{
		"ID: 1, Unidade: SP, Responsável: Ana",
		"ID: 3, Unidade: MG, Responsável: Não encontrado",
	}, Rows(sampleOutcomes()))
	assert.Empty(t, Rows(nil))
}

func TestWriteSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "digest.xlsx")
	require.NoError(t, WriteSpreadsheet(path, []string{"ID: 1, Unidade: SP, Responsável: Ana"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{ColumnTitle}, {"ID: 1, Unidade: SP, Responsável: Ana"}}, rows)
}

func TestSummarize_SentDeletesArtifact(t *testing.T) {
	m := &fakeMailer{}
	r, logPath := newReporter(t, m, Options{OpsAddress: "ops@x.com"})

	art, err := r.Summarize(context.Background(), uuid.New(), sampleOutcomes())
	require.NoError(t, err)
	assert.True(t, art.Sent)
	assert.Len(t, art.Rows, 2)
	assert.NoFileExists(t, art.Path)

	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, Subject, msg.Subject)
	assert.Equal(t, []string{"ops@x.com"}, msg.To)
	assert.Contains(t, msg.HTML, "<li>ID: 1, Unidade: SP, Responsável: Ana</li>")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "aparelhos_inativos.xlsx", msg.Attachments[0].Filename)
	assert.Equal(t, "application/vnd.ms-excel", msg.Attachments[0].ContentType)
	assert.NotEmpty(t, msg.Attachments[0].Data)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Relatório enviado com sucesso para ops@x.com")
}

func TestSummarize_FailureKeepsArtifact(t *testing.T) {
	m := &fakeMailer{err: errors.New("535 authentication failed")}
	r, logPath := newReporter(t, m, Options{OpsAddress: "ops@x.com"})

	art, err := r.Summarize(context.Background(), uuid.New(), sampleOutcomes())
	require.Error(t, err)
	assert.False(t, art.Sent)
	assert.FileExists(t, art.Path)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Erro ao enviar o relatório por e-mail: 535 authentication failed")
}

func TestSummarize_NoOpsAddress(t *testing.T) {
	m := &fakeMailer{}
	r, _ := newReporter(t, m, Options{})

	art, err := r.Summarize(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.FileExists(t, art.Path)
	assert.Empty(t, m.sent)
}

func TestNotifyChat(t *testing.T) {
	chat := &fakeChat{}

	result := models.RunResult{
		ID:         uuid.New(),
		State:      models.StateDone,
		Devices:    10,
		Candidates: 3,
		Attempted:  4,
		Succeeded:  3,
		DigestSent: true,
	}
	NotifyChat(context.Background(), chat, logging.Nop(), result)

	require.Len(t, chat.texts, 1)
	assert.Contains(t, chat.texts[0], "done")
	assert.Contains(t, chat.texts[0], "e-mails enviados: 3/4")
	assert.Contains(t, chat.texts[0], "relatório enviado")

	chat.err = errors.New("chat down")
	assert.NotPanics(t, func() { NotifyChat(context.Background(), chat, logging.Nop(), result) })
	assert.NotPanics(t, func() { NotifyChat(context.Background(), nil, logging.Nop(), result) })
}
