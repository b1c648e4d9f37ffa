package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-notifier/internal/config"
	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/services"
)

type fakeRunner struct {
	id      uuid.UUID
	state   models.RunState
	running bool
	err     error
}

func (f *fakeRunner) Start(context.Context) (uuid.UUID, <-chan models.RunResult, error) {
	if f.err != nil {
		return uuid.Nil, nil, f.err
	}
	f.id = uuid.New()
	f.state = models.StateFetching
	f.running = true
	return f.id, make(chan models.RunResult), nil
}

func (f *fakeRunner) State() (uuid.UUID, models.RunState) { return f.id, f.state }
func (f *fakeRunner) Running() bool                       { return f.running }

type fakeStore struct {
	runs     []models.RunResult
	outcomes map[uuid.UUID][]models.DispatchOutcome
	err      error
}

func (f *fakeStore) ListRuns(_ context.Context, limit int) ([]models.RunResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeStore) GetOutcomesByRunID(_ context.Context, id uuid.UUID) ([]models.DispatchOutcome, error) {
	return f.outcomes[id], f.err
}

func newTestRouter(runner RunController, store RunReader) (*gin.Engine, *services.WebSocketManager) {
	gin.SetMode(gin.TestMode)
	ws := services.NewWebSocketManager(logging.Nop())
	cfg := config.Config{}
	cfg.API.BasePath = "/api/v0"
	h := NewHandler(runner, store, ws, logging.Nop())
	return NewRouter(logging.Nop(), cfg, h), ws
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStartRun(t *testing.T) {
	runner := &fakeRunner{state: models.StateIdle}
	r, _ := newTestRouter(runner, nil)

	w := do(r, http.MethodPost, "/api/v0/runs")
	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, runner.id.String(), body["run_id"])
}

func TestStartRun_InProgress(t *testing.T) {
	runner := &fakeRunner{err: services.ErrRunInProgress, state: models.StateDispatching, id: uuid.New()}
	r, _ := newTestRouter(runner, nil)

	w := do(r, http.MethodPost, "/api/v0/runs")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "dispatching")
}

func TestStartRun_Error(t *testing.T) {
	r, _ := newTestRouter(&fakeRunner{err: errors.New("boom")}, nil)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/api/v0/runs").Code)
}

func TestCurrentRun(t *testing.T) {
	runner := &fakeRunner{state: models.StateIdle}
	r, _ := newTestRouter(runner, nil)

	w := do(r, http.MethodGet, "/api/v0/runs/current")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"idle","running":false}`, w.Body.String())
}

func TestHistory_NoStore(t *testing.T) {
	r, _ := newTestRouter(&fakeRunner{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v0/runs").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v0/runs/"+uuid.NewString()+"/outcomes").Code)
}

func TestListRuns(t *testing.T) {
	store := &fakeStore{runs: []models.RunResult{
		{ID: uuid.New(), State: models.StateDone},
		{ID: uuid.New(), State: models.StateFailed, Error: "config API.usuario: missing"},
	}}
	r, _ := newTestRouter(&fakeRunner{}, store)

	w := do(r, http.MethodGet, "/api/v0/runs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []models.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, models.StateDone, runs[0].State)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v0/runs?limit=x").Code)

	store.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/v0/runs").Code)
}

func TestGetRunOutcomes(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{outcomes: map[uuid.UUID][]models.DispatchOutcome{
		id: {{RunID: id, Recipient: "a@x.com", Success: true}},
	}}
	r, _ := newTestRouter(&fakeRunner{}, store)

	w := do(r, http.MethodGet, "/api/v0/runs/"+id.String()+"/outcomes")
	require.Equal(t, http.StatusOK, w.Code)
	var outcomes []models.DispatchOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "a@x.com", outcomes[0].Recipient)

	w = do(r, http.MethodGet, "/api/v0/runs/"+uuid.NewString()+"/outcomes")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v0/runs/not-a-uuid/outcomes").Code)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(&fakeRunner{}, nil)
	w := do(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebSocket_ReceivesRunEvents(t *testing.T) {
	r, ws := newTestRouter(&fakeRunner{}, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v0/ws", nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return ws.Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	result := &models.RunResult{State: models.StateDone, Attempted: 2, Succeeded: 2}
	ws.Broadcast(models.RunEvent{RunID: uuid.New(), State: models.StateDone, Time: time.Now(), Result: result})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event models.RunEvent
	require.NoError(t, client.ReadJSON(&event))
	assert.Equal(t, models.StateDone, event.State)
	require.NotNil(t, event.Result)
	assert.Equal(t, 2, event.Result.Succeeded)

	client.Close()
	require.Eventually(t, func() bool { return ws.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}
