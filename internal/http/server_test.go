package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finary/internal/core"
	"finary/internal/dashboard"
	"finary/internal/events"
	"finary/internal/export"
	"finary/internal/identity"
	"finary/internal/insight"
	"finary/internal/log"
	"finary/internal/services"
	"finary/internal/storage/memory"
)

type fakeAI struct {
	mu       sync.Mutex
	insight  string
	answer   string
	fail     error
	uploads  []string
	insights int
}

func (f *fakeAI) ProactiveInsight(_ context.Context, _ identity.Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights++
	return f.insight, f.fail
}

func (f *fakeAI) Chat(_ context.Context, _ identity.Identity, message string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return f.answer + ": " + message, nil
}

func (f *fakeAI) ScanReceipt(_ context.Context, _ identity.Identity, filename string, file io.Reader) error {
	return f.upload("scan:"+filename, file)
}

func (f *fakeAI) VoiceEntry(_ context.Context, _ identity.Identity, filename string, file io.Reader) error {
	return f.upload("voice:"+filename, file)
}

func (f *fakeAI) upload(name string, file io.Reader) error {
	if f.fail != nil {
		return f.fail
	}
	body, _ := io.ReadAll(file)
	f.mu.Lock()
	f.uploads = append(f.uploads, name+"="+string(body))
	f.mu.Unlock()
	return nil
}

type fakeSheets struct {
	userID string
	rows   int
	err    error
}

func (f *fakeSheets) Export(_ context.Context, userID string, txs []core.Transaction) (export.SheetsResult, error) {
	f.userID = userID
	f.rows = len(txs)
	if f.err != nil {
		return export.SheetsResult{}, f.err
	}
	return export.SheetsResult{Tab: "Finary - " + userID, Rows: len(txs)}, nil
}

type harness struct {
	srv      *Server
	store    *memory.Store
	ai       *fakeAI
	sessions *dashboard.Registry
	insights *insight.Service
}

func newHarness(t *testing.T, configure func(*Deps)) *harness {
	t.Helper()

	store := memory.New()
	bus := events.NewLocalBus()
	ai := &fakeAI{insight: "You spend a lot on Food.", answer: "advice"}
	provider := identity.ContextProvider{}
	mutations := services.NewMutationService(provider, store, bus)

	h := &harness{
		store:    store,
		ai:       ai,
		sessions: dashboard.NewRegistry(dashboard.NewLoader(store), bus, 10, time.Hour),
		insights: insight.NewService(ai, 10, time.Hour),
	}
	deps := Deps{
		Logger:    log.New(log.Config{Output: io.Discard}),
		Mutations: mutations,
		Assistant: services.NewAssistant(provider, ai, mutations),
		Sessions:  h.sessions,
		Insights:  h.insights,
	}
	if configure != nil {
		configure(&deps)
	}
	h.srv = NewServer(":0", deps)
	h.srv.now = func() time.Time { return time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(h.srv.rateLimiter.Stop)
	return h
}

func signIn(r *http.Request, userID, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("X-User-Id", userID)
	r.Header.Set("X-User-Name", "Ana Souza")
	return r
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, r)
	return rr
}

func jsonRequest(method, path, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	ready := errors.New("db down")
	h := newHarness(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return ready }
	})

	rr := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	ready = nil
	rr = h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestResponsesCarrySecurityHeadersAndRequestID(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestDashboard_RequiresIdentity(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, core.KindUnauthenticated, decode[ErrorPayload](t, rr).Kind)

	// Token without user id is not an identity.
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	r.Header.Set("Authorization", "Bearer tok")
	assert.Equal(t, http.StatusUnauthorized, h.do(r).Code)
}

func TestDashboard_ShowsMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Seed(
		[]core.Transaction{
			{UserID: "u1", Amount: decimal.NewFromInt(500), Category: "Food", Date: core.NewDate(2025, 4, 1)},
			{UserID: "u1", Amount: decimal.NewFromInt(200), Category: "Food", Date: core.NewDate(2025, 4, 2)},
			{UserID: "u2", Amount: decimal.NewFromInt(9), Category: "Food", Date: core.NewDate(2025, 4, 2)},
		},
		[]core.Budget{{UserID: "u1", Category: "Food", Limit: decimal.NewFromInt(600)}},
	)

	rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		UserName       string             `json:"user_name"`
		Transactions   []core.Transaction `json:"transactions"`
		Snapshot       core.Snapshot      `json:"snapshot"`
		Loaded         bool               `json:"loaded"`
		InsightPending bool               `json:"insight_pending"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal(t, "Ana Souza", body.UserName)
	assert.True(t, body.Loaded)
	assert.Len(t, body.Transactions, 2)
	assert.Equal(t, "2025-04-02", body.Transactions[0].Date.String())
	assert.EqualValues(t, 117, body.Snapshot.UtilizationPercent)
	assert.Equal(t, core.OverLimit, body.Snapshot.RiskTier)
	assert.True(t, body.InsightPending)
}

func TestAddTransaction_RefreshesDashboard(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/transactions",
		`{"amount":"42,10","category":"Travel","description":"train","date":"2025-04-01"}`), "u1", "tok"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[services.Result](t, rr)
	require.True(t, res.OK)
	require.NotNil(t, res.Transaction)
	assert.NotEmpty(t, res.Transaction.ID)

	rr = h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	view := decode[dashboard.View](t, rr)
	require.Len(t, view.Transactions, 1)
	assert.Equal(t, uint64(1), view.RefreshToken)
	assert.True(t, view.Snapshot.TotalOutflow.Equal(decimal.RequireFromString("42.1")))
}

func TestAddTransaction_Failures(t *testing.T) {
	tests := []struct {
		name     string
		signedIn bool
		body     string
		setup    func(*memory.Store)
		status   int
		kind     string
	}{
		{"signed out", false, `{"amount":"1","category":"Food"}`, nil, http.StatusUnauthorized, core.KindUnauthenticated},
		{"missing amount", true, `{"category":"Food"}`, nil, http.StatusUnprocessableEntity, core.KindValidation},
		{"bad amount", true, `{"amount":"-3","category":"Food"}`, nil, http.StatusUnprocessableEntity, core.KindValidation},
		{"malformed json", true, `{"amount":`, nil, http.StatusBadRequest, core.KindValidation},
		{"unknown field", true, `{"amount":"1","category":"Food","cents":100}`, nil, http.StatusBadRequest, core.KindValidation},
		{
			"storage down", true, `{"amount":"1","category":"Food"}`,
			func(s *memory.Store) { s.FailOn(memory.OpInsertTransaction, errors.New("disk full")) },
			http.StatusBadGateway, core.KindPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tt.setup != nil {
				tt.setup(h.store)
			}

			r := jsonRequest(http.MethodPost, "/api/transactions", tt.body)
			if tt.signedIn {
				signIn(r, "u1", "tok")
			}
			rr := h.do(r)

			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			body := decode[ErrorPayload](t, rr)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, 0, len(mustList(t, h.store, "u1")))
		})
	}
}

func mustList(t *testing.T, store *memory.Store, userID string) []core.Transaction {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), userID)
	require.NoError(t, err)
	return txs
}

func TestSetBudget(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food","limit":"600"}`), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[services.Result](t, rr)
	require.NotNil(t, first.Budget)

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food","limit":"650"}`), "u1", "tok"))
	second := decode[services.Result](t, rr)
	require.NotNil(t, second.Budget)
	assert.Equal(t, first.Budget.ID, second.Budget.ID)

	budgets, err := h.store.ListBudgets(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.True(t, budgets[0].Limit.Equal(decimal.NewFromInt(650)))

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food"}`), "u1", "tok"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestMutations_AcceptNumericAmounts(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(signIn(jsonRequest(http.MethodPost, "/api/transactions", `{"amount":500,"category":"Food"}`), "u1", "tok"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[services.Result](t, rr)
	require.NotNil(t, res.Transaction)
	assert.True(t, res.Transaction.Amount.Equal(decimal.NewFromInt(500)))

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food","limit":600.5}`), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res = decode[services.Result](t, rr)
	require.NotNil(t, res.Budget)
	assert.True(t, res.Budget.Limit.Equal(decimal.RequireFromString("600.5")))

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/transactions", `{"amount":-5,"category":"Food"}`), "u1", "tok"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Len(t, mustList(t, h.store, "u1"), 1)
}

func TestInsight_CachedPerSession(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/insight", nil), "u1", "tok"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "You spend a lot on Food.", decode[map[string]string](t, rr)["insight"])
	}
	assert.Equal(t, 1, h.ai.insights)

	rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "You spend a lot on Food.", body["insight"])
	assert.Equal(t, false, body["insight_pending"])

	rr = h.do(httptest.NewRequest(http.MethodGet, "/api/insight", nil))
	assert.Equal(t, insight.FallbackInsight, decode[map[string]string](t, rr)["insight"])
}

func TestInsight_FailureFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.ai.fail = fmt.Errorf("backend: %w", core.ErrTransport)

	rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/insight", nil), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, insight.FallbackInsight, decode[map[string]string](t, rr)["insight"])
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(signIn(jsonRequest(http.MethodPost, "/api/chat", `{"message":"can I afford a trip?"}`), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[chatResponse](t, rr)
	assert.True(t, body.OK)
	assert.Equal(t, "advice: can I afford a trip?", body.Answer)

	rr = h.do(jsonRequest(http.MethodPost, "/api/chat", `{"message":"hi"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, services.MsgSignIn, decode[chatResponse](t, rr).Answer)

	h.ai.fail = fmt.Errorf("backend: %w", core.ErrTransport)
	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/chat", `{"message":"hi"}`), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, services.MsgChatFailed, decode[chatResponse](t, rr).Answer)
}

func multipartRequest(t *testing.T, path, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestScanReceipt(t *testing.T) {
	h := newHarness(t, nil)

	// Open a session first so the change signal has somewhere to land.
	h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))

	rr := h.do(signIn(multipartRequest(t, "/api/scan-receipt", "file", "../receipt.jpg", "jpeg-bytes"), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	reply := decode[services.Reply](t, rr)
	assert.True(t, reply.OK)
	assert.Equal(t, services.MsgScanSucceeded, reply.Message)
	assert.Equal(t, []string{"scan:receipt.jpg=jpeg-bytes"}, h.ai.uploads)

	rr = h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	assert.Equal(t, uint64(1), decode[dashboard.View](t, rr).RefreshToken)

	rr = h.do(signIn(multipartRequest(t, "/api/scan-receipt", "", "", ""), "u1", "tok"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, msgAttachFile, decode[services.Reply](t, rr).Message)
}

func TestVoiceEntry_FailureIsFriendly(t *testing.T) {
	h := newHarness(t, nil)
	h.ai.fail = fmt.Errorf("backend: %w", core.ErrTransport)

	rr := h.do(signIn(multipartRequest(t, "/api/voice-entry", "file", "note.webm", "audio"), "u1", "tok"))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	reply := decode[services.Reply](t, rr)
	assert.False(t, reply.OK)
	assert.Equal(t, services.MsgVoiceFailed, reply.Message)
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Seed([]core.Transaction{
		{UserID: "u1", Amount: decimal.RequireFromString("12.5"), Category: "Food", Description: "lunch, with team", Date: core.NewDate(2025, 4, 1)},
	}, nil)

	rr := h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/export.csv", nil), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="Finary_Report_2025-04-02.csv"`, rr.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, export.Header, records[0])
	assert.Equal(t, "lunch, with team", records[1][2])

	rr = h.do(httptest.NewRequest(http.MethodGet, "/api/export.csv", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExportSheets(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t, nil)
		rr := h.do(signIn(httptest.NewRequest(http.MethodPost, "/api/export/sheets", nil), "u1", "tok"))
		assert.Equal(t, http.StatusNotImplemented, rr.Code)
	})

	t.Run("configured", func(t *testing.T) {
		sheets := &fakeSheets{}
		h := newHarness(t, func(d *Deps) { d.Sheets = sheets })
		h.store.Seed([]core.Transaction{{UserID: "u1", Amount: decimal.NewFromInt(3), Category: "Bills", Date: core.NewDate(2025, 4, 1)}}, nil)

		rr := h.do(signIn(httptest.NewRequest(http.MethodPost, "/api/export/sheets", nil), "u1", "tok"))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, export.SheetsResult{Tab: "Finary - u1", Rows: 1}, decode[export.SheetsResult](t, rr))
		assert.Equal(t, "u1", sheets.userID)
	})

	t.Run("backend failure", func(t *testing.T) {
		sheets := &fakeSheets{err: fmt.Errorf("sheets: %w", core.ErrTransport)}
		h := newHarness(t, func(d *Deps) { d.Sheets = sheets })

		rr := h.do(signIn(httptest.NewRequest(http.MethodPost, "/api/export/sheets", nil), "u1", "tok"))
		require.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Equal(t, core.KindTransport, decode[ErrorPayload](t, rr).Kind)
	})
}

func TestEndSession(t *testing.T) {
	h := newHarness(t, nil)
	ident := identity.Identity{UserID: "u1", Token: "tok"}

	h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/insight", nil), "u1", "tok"))
	h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	require.Equal(t, 1, h.sessions.Len())

	rr := h.do(signIn(httptest.NewRequest(http.MethodPost, "/api/session/end", nil), "u1", "tok"))
	require.Equal(t, http.StatusNoContent, rr.Code)

	assert.Equal(t, 0, h.sessions.Len())
	_, cached := h.insights.Peek(ident.SessionKey())
	assert.False(t, cached)
}

func TestRateLimitAppliesToPosts(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.RateLimitPerMinute = 1 })

	rr := h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food","limit":"1"}`), "u1", "tok"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(signIn(jsonRequest(http.MethodPost, "/api/budgets", `{"category":"Food","limit":"2"}`), "u1", "tok"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = h.do(signIn(httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), "u1", "tok"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
