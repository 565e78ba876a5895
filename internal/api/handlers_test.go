package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"helixar/internal/models"
	"helixar/internal/preferences"
	"helixar/internal/service/ai"
	"helixar/internal/session"
	"helixar/internal/storage"
	"helixar/internal/worker"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, _, completer, _ := newTestServer(t)

	// Fresh workspace starts on a draft.
	state := getState(t, router)
	if state.Draft == nil || state.CurrentSessionID != state.Draft.ID {
		t.Fatalf("expected current draft, got %#v", state)
	}

	// Send the first message; the completion runs inline in tests.
	sendResp := doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{
		"content": "Plan my launch week in detail please",
	})
	assertStatus(t, sendResp, http.StatusAccepted)
	var sendBody struct {
		Turn session.Turn `json:"turn"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.Turn.Prompt != "Plan my launch week in detail please" {
		t.Fatalf("unexpected turn: %#v", sendBody.Turn)
	}
	if completer.lastSession != sendBody.Turn.SessionID {
		t.Fatalf("tool session not propagated: %q", completer.lastSession)
	}

	state = getState(t, router)
	if len(state.Sessions) != 1 || state.Draft != nil {
		t.Fatalf("draft was not promoted: %#v", state)
	}
	se := state.Sessions[0]
	if se.Title != "Plan my launch week in detail …" {
		t.Fatalf("unexpected title %q", se.Title)
	}
	if len(se.Messages) != 2 || se.Messages[1].Content != "reply" {
		t.Fatalf("expected user and assistant messages, got %#v", se.Messages)
	}

	// Rename.
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/sessions/"+se.ID, map[string]string{"title": "Launch"}), http.StatusOK)

	// Regenerate the assistant reply.
	completer.reply = "second reply"
	regenResp := doJSONRequest(t, router, http.MethodPost, "/api/messages/"+se.Messages[1].ID+"/regenerate", nil)
	assertStatus(t, regenResp, http.StatusAccepted)
	state = getState(t, router)
	got := state.Sessions[0]
	if got.Title != "Launch" || len(got.Messages) != 2 || got.Messages[1].Content != "second reply" {
		t.Fatalf("regenerate mismatch: %#v", got)
	}

	// Share link and group conversion.
	shareResp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+se.ID+"/share", nil)
	assertStatus(t, shareResp, http.StatusOK)
	var share struct {
		Link string `json:"link"`
	}
	decodeJSON(t, shareResp.Body.Bytes(), &share)
	if share.Link != "https://helixar.ai/share/"+se.ID {
		t.Fatalf("unexpected share link %q", share.Link)
	}
	groupResp := doJSONRequest(t, router, http.MethodPost, "/api/group", nil)
	assertStatus(t, groupResp, http.StatusOK)
	var group struct {
		GroupLink string `json:"groupLink"`
	}
	decodeJSON(t, groupResp.Body.Bytes(), &group)
	if !strings.HasPrefix(group.GroupLink, "https://helixar.ai/group/") {
		t.Fatalf("unexpected group link %q", group.GroupLink)
	}

	// Delete the only session; a new draft takes its place.
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/sessions/"+se.ID, nil), http.StatusOK)
	state = getState(t, router)
	if len(state.Sessions) != 0 || state.Draft == nil || state.CurrentSessionID != state.Draft.ID {
		t.Fatalf("expected fresh draft after delete, got %#v", state)
	}
}

func TestSendMessageValidation(t *testing.T) {
	router, _, _, _ := newTestServer(t)

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "   "}), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestSendMessageBusySession(t *testing.T) {
	router, _, _, sched := newTestServer(t)
	sched.hold = true

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "first"}), http.StatusAccepted)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "second"}), http.StatusConflict)

	state := getState(t, router)
	if !state.Generating {
		t.Fatalf("session should be generating")
	}

	sched.flush()
	state = getState(t, router)
	if state.Generating || len(state.Sessions[0].Messages) != 2 {
		t.Fatalf("completion not applied: %#v", state)
	}
}

func TestSendMessageQueueFull(t *testing.T) {
	router, _, _, sched := newTestServer(t)
	sched.err = worker.ErrDispatcherBusy

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hello"}), http.StatusTooManyRequests)

	state := getState(t, router)
	if state.Generating {
		t.Fatalf("abandoned turn should release the session")
	}
	if len(state.Sessions) != 1 || len(state.Sessions[0].Messages) != 1 {
		t.Fatalf("user message should remain: %#v", state.Sessions)
	}

	sched.err = nil
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "again"}), http.StatusAccepted)
}

func TestDroppedTurnReleasesSession(t *testing.T) {
	router, _, completer, sched := newTestServer(t)
	sched.hold = true

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hello"}), http.StatusAccepted)
	sched.dropAll(worker.ErrDispatcherStopped)

	state := getState(t, router)
	if state.Generating {
		t.Fatalf("dropped turn should release the session")
	}
	if state.LastError != worker.ErrDispatcherStopped.Error() {
		t.Fatalf("unexpected last error %q", state.LastError)
	}
	if len(state.Sessions) != 1 || len(state.Sessions[0].Messages) != 1 {
		t.Fatalf("user message should remain without a reply: %#v", state.Sessions)
	}
	if completer.lastSession != "" {
		t.Fatalf("dropped turn must not reach the completer")
	}
}

func TestCompletionFailureRecordedInState(t *testing.T) {
	router, _, completer, _ := newTestServer(t)
	completer.err = errors.New("quota exceeded")

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hello"}), http.StatusAccepted)

	state := getState(t, router)
	if state.Generating || state.LastError != "quota exceeded" {
		t.Fatalf("unexpected state after failure: %#v", state)
	}
	if len(state.Sessions[0].Messages) != 1 {
		t.Fatalf("failed completion must not append a message")
	}
}

func TestExportSession(t *testing.T) {
	router, store, _, _ := newTestServer(t)
	if err := store.SendMessage(context.Background(), "export me"); err != nil {
		t.Fatalf("send: %v", err)
	}
	id := store.Snapshot().CurrentSessionID

	mdResp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+id+"/export?format=markdown", nil)
	assertStatus(t, mdResp, http.StatusOK)
	if !strings.Contains(mdResp.Body.String(), "# export me") {
		t.Fatalf("markdown export missing title: %s", mdResp.Body.String())
	}
	if cd := mdResp.Header().Get("Content-Disposition"); !strings.Contains(cd, id+".md") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	jsonResp := doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+id+"/export", nil)
	assertStatus(t, jsonResp, http.StatusOK)
	var exported models.ChatSession
	decodeJSON(t, jsonResp.Body.Bytes(), &exported)
	if exported.ID != id || len(exported.Messages) != 2 {
		t.Fatalf("unexpected json export: %#v", exported)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/missing/export", nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/missing/share", nil), http.StatusNotFound)
}

func TestSelectSearchAndGrouped(t *testing.T) {
	router, store, _, _ := newTestServer(t)
	ctx := context.Background()
	if err := store.SendMessage(ctx, "Neon UI concept"); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := store.Snapshot().CurrentSessionID
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/sessions/draft", nil), http.StatusOK)
	if err := store.SendMessage(ctx, "Full stack architecture"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var state session.Snapshot
	selectResp := doJSONRequest(t, router, http.MethodPut, "/api/sessions/current", map[string]string{"id": first})
	assertStatus(t, selectResp, http.StatusOK)
	decodeJSON(t, selectResp.Body.Bytes(), &state)
	if state.CurrentSessionID != first {
		t.Fatalf("select did not switch session")
	}

	var found struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/search?q=neon", nil).Body.Bytes(), &found)
	if len(found.Sessions) != 1 || found.Sessions[0].ID != first {
		t.Fatalf("unexpected search results: %#v", found.Sessions)
	}

	var grouped session.Grouping
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/sessions/grouped", nil).Body.Bytes(), &grouped)
	if len(grouped.Today) != 2 {
		t.Fatalf("expected both sessions under today, got %#v", grouped)
	}
}

func TestModelAndPreferences(t *testing.T) {
	router, store, _, _ := newTestServer(t)

	assertStatus(t, doJSONRequest(t, router, http.MethodPut, "/api/model", map[string]string{"model": "pro"}), http.StatusOK)
	if store.Snapshot().Model != models.ModelPro {
		t.Fatalf("model not switched")
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodPut, "/api/model", map[string]string{"model": "ultra"}), http.StatusBadRequest)

	var prefs preferences.Preferences
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/preferences", nil).Body.Bytes(), &prefs)
	if prefs.Theme != models.ThemeDark || prefs.Accent != "#b33a72" {
		t.Fatalf("unexpected default preferences: %#v", prefs)
	}

	updResp := doJSONRequest(t, router, http.MethodPut, "/api/preferences", map[string]string{"theme": "light", "accent": "#00aaff"})
	assertStatus(t, updResp, http.StatusOK)
	decodeJSON(t, updResp.Body.Bytes(), &prefs)
	if prefs.Theme != models.ThemeLight || prefs.Accent != "#00aaff" {
		t.Fatalf("preferences not updated: %#v", prefs)
	}
	assertStatus(t, doJSONRequest(t, router, http.MethodPut, "/api/preferences", map[string]string{"theme": "sepia"}), http.StatusBadRequest)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/healthz", nil), http.StatusOK)
	metricsResp := doJSONRequest(t, router, http.MethodGet, "/metrics", nil)
	assertStatus(t, metricsResp, http.StatusOK)
	if !strings.Contains(metricsResp.Body.String(), "helixar_persisted_sessions") {
		t.Fatalf("metrics output missing session gauge")
	}
}

func newTestServer(t *testing.T) (*gin.Engine, *session.Store, *mockCompleter, *inlineScheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := storage.NewMemoryStore()
	completer := &mockCompleter{reply: "reply"}
	store, err := session.Open(context.Background(), kv, session.Options{
		Completer:         completer,
		SystemInstruction: "test",
		Model:             models.ModelFlash,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	prefs := preferences.NewService(kv, preferences.Preferences{Theme: models.ThemeDark, Accent: "#b33a72"})
	sched := &inlineScheduler{}
	handler := NewHandler(store, prefs, sched, ModelTiers{Fast: models.ModelFlash, Pro: models.ModelPro})

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)
	return router, store, completer, sched
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// getState returns a freshly decoded snapshot so omitted fields read as zero.
func getState(t *testing.T, router *gin.Engine) session.Snapshot {
	t.Helper()
	rec := doJSONRequest(t, router, http.MethodGet, "/api/state", nil)
	assertStatus(t, rec, http.StatusOK)
	var state session.Snapshot
	decodeJSON(t, rec.Body.Bytes(), &state)
	return state
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type mockCompleter struct {
	reply       string
	err         error
	lastSession string
}

func (m *mockCompleter) Complete(ctx context.Context, _ models.ModelType, _, _ string) (string, error) {
	m.lastSession, _ = ai.ToolSessionFromContext(ctx)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

// inlineScheduler runs jobs on the calling goroutine unless hold is set.
type inlineScheduler struct {
	mu      sync.Mutex
	hold    bool
	err     error
	pending []worker.Job
}

func (s *inlineScheduler) Enqueue(job worker.Job) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	if s.hold {
		s.pending = append(s.pending, job)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	job.Task(context.Background())
	return nil
}

func (s *inlineScheduler) take() []worker.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	return pending
}

func (s *inlineScheduler) flush() {
	for _, job := range s.take() {
		job.Task(context.Background())
	}
}

func (s *inlineScheduler) dropAll(err error) {
	for _, job := range s.take() {
		job.Dropped(err)
	}
}
