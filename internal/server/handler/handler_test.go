package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/service"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type fakeProcessor struct {
	got service.Inbound
	res domain.ProcessResult
	err error
}

func (p *fakeProcessor) Process(_ context.Context, in service.Inbound) (domain.ProcessResult, error) {
	p.got = in
	return p.res, p.err
}

func TestWebhookReceive(t *testing.T) {
	p := &fakeProcessor{res: domain.ProcessResult{
		Outcome:  domain.OutcomeOpened,
		Summary:  "opened BUY BTCUSD",
		EventKey: "evt-9",
		Signal:   domain.Signal{Source: "tv", Symbol: "BTCUSD", Action: domain.SideBuy, Price: 100},
		Decision: &domain.Decision{Kind: domain.DecisionOpened, Opened: &domain.Position{ID: "p1", Symbol: "BTCUSD"}},
		Order:    &domain.OrderResult{Status: domain.OrderStatusDryRun},
	}}
	h := NewWebhookHandler(p, 1024, discard())

	req := httptest.NewRequest(http.MethodPost, "/webhook?source=tv", strings.NewReader(`{"action":"buy"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "evt-9")
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "evt-9", p.got.EventID)
	assert.Equal(t, "tv", p.got.Source)
	assert.Equal(t, "application/json", p.got.ContentType)

	body := decodeBody(t, rec)
	assert.Equal(t, "opened", body["outcome"])
	assert.Equal(t, false, body["duplicate"])
	decision := body["decision"].(map[string]any)
	assert.Equal(t, "p1", decision["opened"].(map[string]any)["id"])
	assert.Equal(t, "dry_run", body["order"].(map[string]any)["status"])
}

func TestWebhookReceive_Errors(t *testing.T) {
	p := &fakeProcessor{}
	h := NewWebhookHandler(p, 16, discard())

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("   ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	p.err = errors.New("claim failed")
	p.res = domain.ProcessResult{Outcome: domain.OutcomeError}
	rec = httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("BUY X 1")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["outcome"])
}

type fakeReporter struct {
	views      []domain.PositionView
	history    []domain.Position
	closeErr   error
	closed     []domain.ExitResult
	closeAll   error
	stats      domain.RiskStats
	violations []string
	checked    string
}

func (f *fakeReporter) OpenPositions(context.Context) ([]domain.PositionView, error) {
	return f.views, nil
}

func (f *fakeReporter) History(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return f.history, nil
}

func (f *fakeReporter) ClosePosition(_ context.Context, id string) (*domain.ExitResult, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &domain.ExitResult{
		Position:   domain.Position{ID: id, Status: domain.PositionStatusClosed, ClosedByUser: true},
		Evaluation: domain.RiskEvaluation{Close: true, Exit: domain.ExitManual, Price: 105},
	}, nil
}

func (f *fakeReporter) CloseAll(context.Context) ([]domain.ExitResult, error) {
	return f.closed, f.closeAll
}

func (f *fakeReporter) Stats(context.Context) (domain.RiskStats, error) { return f.stats, nil }

func (f *fakeReporter) WouldViolate(_ context.Context, symbol string, _ float64) ([]string, error) {
	f.checked = symbol
	return f.violations, nil
}

func TestPositionListOpen(t *testing.T) {
	f := &fakeReporter{views: []domain.PositionView{
		{Position: domain.Position{ID: "a", Symbol: "BTCUSD", Side: domain.SideBuy}, CurrentPrice: 110, UnrealizedPnL: 1000, PnLPct: 10},
		{Position: domain.Position{ID: "b", Symbol: "ETHUSD"}, PriceStale: true},
	}}
	h := NewPositionHandler(f, discard())

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 1000.0, body["unrealized_pnl"])
	first := body["positions"].([]any)[0].(map[string]any)
	assert.Equal(t, "a", first["id"])
	assert.Equal(t, 10.0, first["pnl_percent"])
	second := body["positions"].([]any)[1].(map[string]any)
	assert.Equal(t, true, second["price_stale"])
}

func TestPositionHistory(t *testing.T) {
	pnl := -25.0
	f := &fakeReporter{history: []domain.Position{{ID: "c", ProfitLoss: &pnl}}}
	h := NewPositionHandler(f, discard())

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/positions/history?symbol=btcusd", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -25.0, decodeBody(t, rec)["realized_pnl"])
}

func TestPositionClose(t *testing.T) {
	f := &fakeReporter{}
	h := NewPositionHandler(f, discard())

	req := httptest.NewRequest(http.MethodPost, "/api/positions/p1/close", nil)
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "manual", body["exit"])
	assert.Equal(t, true, body["position"].(map[string]any)["closed_by_user"])

	f.closeErr = fmt.Errorf("report_service: close p1: %w", domain.ErrNotFound)
	rec = httptest.NewRecorder()
	h.Close(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionCloseAll_PartialFailure(t *testing.T) {
	f := &fakeReporter{
		closed:   []domain.ExitResult{{Position: domain.Position{ID: "a"}}},
		closeAll: errors.New("SOLUSD: no price"),
	}
	h := NewPositionHandler(f, discard())

	rec := httptest.NewRecorder()
	h.CloseAll(rec, httptest.NewRequest(http.MethodPost, "/api/positions/close-all", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 1.0, body["count"])
	assert.Contains(t, body["error"], "no price")
}

type fakeSettings struct {
	snapshot map[string]any
	updated  map[string]string
	err      error
	panic    bool
}

func (f *fakeSettings) Snapshot() map[string]any { return f.snapshot }

func (f *fakeSettings) Update(_ context.Context, values map[string]string) (domain.RiskSettings, error) {
	if f.err != nil {
		return domain.RiskSettings{}, f.err
	}
	f.updated = values
	return domain.RiskSettings{}, nil
}

func (f *fakeSettings) SetPanicMode(_ context.Context, on bool) (domain.RiskSettings, error) {
	f.panic = on
	return domain.RiskSettings{PanicMode: on}, nil
}

func TestRiskUpdateSettings(t *testing.T) {
	s := &fakeSettings{snapshot: map[string]any{"stop_loss_percent": 1.5}}
	h := NewRiskHandler(s, &fakeReporter{}, discard())

	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/risk/settings",
		strings.NewReader(`{"stop_loss_percent": 1.5, "trading_enabled": true, "trailing_stop_type": "amount"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{
		"stop_loss_percent":  "1.5",
		"trading_enabled":    "true",
		"trailing_stop_type": "amount",
	}, s.updated)
}

func TestRiskUpdateSettings_Invalid(t *testing.T) {
	s := &fakeSettings{err: fmt.Errorf("settings_service: %w: nope: unknown setting", service.ErrInvalidSetting)}
	h := NewRiskHandler(s, &fakeReporter{}, discard())

	for _, body := range []string{`{"nope": 1}`, `{"stop_loss_percent": [1]}`, `{}`, `not json`} {
		rec := httptest.NewRecorder()
		h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/risk/settings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRiskPanic(t *testing.T) {
	s := &fakeSettings{}
	h := NewRiskHandler(s, &fakeReporter{}, discard())

	rec := httptest.NewRecorder()
	h.Panic(rec, httptest.NewRequest(http.MethodPost, "/api/risk/panic", strings.NewReader(`{"enabled": true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.panic)
	assert.Equal(t, true, decodeBody(t, rec)["panic_mode"])

	rec = httptest.NewRecorder()
	h.Panic(rec, httptest.NewRequest(http.MethodPost, "/api/risk/panic", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskCheck(t *testing.T) {
	f := &fakeReporter{violations: []string{"panic mode is active: all trading suspended"}}
	h := NewRiskHandler(&fakeSettings{}, f, discard())

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodPost, "/api/risk/check", strings.NewReader(`{"symbol":"btcusd","size":2}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSD", f.checked)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["allowed"])
	assert.Len(t, body["violations"], 1)

	rec = httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodPost, "/api/risk/check", strings.NewReader(`{"symbol":"BTCUSD","size":0}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	ok := HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	bad := HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	rec := httptest.NewRecorder()
	NewHealthHandler(discard(), ok).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	NewHealthHandler(discard(), ok, bad).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=9999&offset=-1&symbol=%20ethusd&since=2024-03-01T00:00:00Z&until=bad", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Equal(t, "ETHUSD", opts.Symbol)
	require.NotNil(t, opts.Since)
	assert.Nil(t, opts.Until)
}

type fakeEventReader struct {
	msgs   []domain.StreamMessage
	err    error
	stream string
	lastID string
	count  int
}

func (f *fakeEventReader) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	f.stream, f.lastID, f.count = stream, lastID, count
	return f.msgs, f.err
}

func serveEvents(h *EventHandler, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events/{channel}", h.List)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEventList(t *testing.T) {
	reader := &fakeEventReader{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"opened"}`)},
		{ID: "2-0", Payload: []byte("plain")},
	}}
	h := NewEventHandler(reader, []string{"positions"}, discard())

	rec := serveEvents(h, "/api/events/positions?after=0-5&limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "events:positions", reader.stream)
	assert.Equal(t, "0-5", reader.lastID)
	assert.Equal(t, maxEventLimit, reader.count)

	body := decodeBody(t, rec)
	assert.Equal(t, "2-0", body["next"])
	events := body["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"event": "opened"}, events[0].(map[string]any)["payload"])
	assert.Equal(t, "plain", events[1].(map[string]any)["payload"])
}

func TestEventList_Errors(t *testing.T) {
	reader := &fakeEventReader{}
	h := NewEventHandler(reader, []string{"positions"}, discard())

	rec := serveEvents(h, "/api/events/secrets")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serveEvents(h, "/api/events/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", reader.lastID)
	assert.Equal(t, defaultEventLimit, reader.count)
	assert.Equal(t, "0", decodeBody(t, rec)["next"])

	reader.err = errors.New("redis down")
	rec = serveEvents(h, "/api/events/positions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
