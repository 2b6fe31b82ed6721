package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/starford/blink/internal/host"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/notes"
	"github.com/starford/blink/internal/noteservice"
	"github.com/starford/blink/internal/sse"
	"github.com/starford/blink/internal/testutil"
	"github.com/starford/blink/internal/tracker"
	"github.com/starford/blink/internal/windows"
	"github.com/starford/blink/internal/workspace"
)

type apiEnv struct {
	router   http.Handler
	bridge   *host.Bridge
	mgr      *windows.Manager
	broker   *sse.Broker
	frontend chan []byte
}

// testEnv wires a temp notes directory, SQLite index, broker-backed host
// bridge and window manager behind the router. An empty authToken means
// auth is disabled. A subscriber stands in for the frontend.
func testEnv(t *testing.T, authToken string) *apiEnv {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) *apiEnv {
	t.Helper()
	_, store := testutil.TestNotesDir(t)
	db := testutil.TestDB(t)
	logger := testutil.Logger()

	repo := notes.New(store, db, tracker.New(), logger)
	if _, _, err := repo.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var bridge *host.Bridge
	broker := sse.NewBroker(time.Second, sse.WithIdleHook(func() { bridge.Detach() }))
	t.Cleanup(broker.Close)
	frontend := broker.Subscribe()

	bridge = host.NewBridge(broker, logger)
	ws := workspace.NewStore(filepath.Join(t.TempDir(), "workspace.json"), logger)
	mgr := windows.NewManager(bridge, repo, ws, logger, windows.WithNotifier(broker))
	svc := noteservice.NewService(repo, db, logger,
		noteservice.WithWindows(mgr),
		noteservice.WithNotifier(broker))

	router := NewRouter(svc, mgr, bridge, authToken != "", authToken, sseHandler)
	return &apiEnv{router: router, bridge: bridge, mgr: mgr, broker: broker, frontend: frontend}
}

// reattach simulates the frontend restarting: its stream closes and a new
// one opens.
func (e *apiEnv) reattach(t *testing.T) {
	t.Helper()
	e.broker.Unsubscribe(e.frontend)
	e.frontend = e.broker.Subscribe()
}

func (e *apiEnv) reconcile(t *testing.T) windows.Report {
	t.Helper()
	w := e.do(t, http.MethodPost, "/windows/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile = %d, body = %s", w.Code, w.Body.String())
	}
	var report windows.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	return report
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) createNote(t *testing.T, title, content string) NoteDetail {
	t.Helper()
	w := e.do(t, http.MethodPost, "/notes", map[string]any{"title": title, "content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var n NoteDetail
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCreateAndGetNote(t *testing.T) {
	e := testEnv(t, "")
	created := e.createNote(t, "Hello", "World")

	w := e.do(t, http.MethodGet, "/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Title != "Hello" || note.Content != "World" {
		t.Errorf("note = %+v", note)
	}
	if note.Path != "hello.md" {
		t.Errorf("path = %q", note.Path)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	e := testEnv(t, "")
	body := map[string]any{"id": "fixed", "title": "A"}
	if w := e.do(t, http.MethodPost, "/notes", body); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/notes", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateNote_InvalidBody(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodPost, "/notes", map[string]any{"id": "../escape"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken JSON = %d, want 400", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	e := testEnv(t, "")
	created := e.createNote(t, "Lock", "v1")

	update := map[string]any{"content": "v2"}
	w := e.do(t, http.MethodPut, "/notes/"+created.ID, update, "If-Match", `"`+created.Checksum+`"`)
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPut, "/notes/"+created.ID, map[string]any{"content": "v3"}, "If-Match", created.Checksum)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}

	w = e.do(t, http.MethodPut, "/notes/"+created.ID, map[string]any{"content": "v3"})
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestUpdateNote_Errors(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodPut, "/notes/ghost", map[string]any{"content": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
	created := e.createNote(t, "Empty", "")
	if w := e.do(t, http.MethodPut, "/notes/"+created.ID, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty update = %d, want 400", w.Code)
	}
}

func TestDeleteNote_ClosesWindow(t *testing.T) {
	e := testEnv(t, "")
	created := e.createNote(t, "Bye", "gone")
	if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": created.ID}); w.Code != http.StatusCreated {
		t.Fatalf("open window = %d, body = %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodDelete, "/notes/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/notes/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/windows/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("window after delete = %d, want 404", w.Code)
	}
	live, _ := e.bridge.ListLiveWindows(context.Background())
	if len(live) != 1 {
		t.Errorf("live windows = %+v", live)
	}
}

func TestListAndReorder(t *testing.T) {
	e := testEnv(t, "")
	a := e.createNote(t, "A", "")
	b := e.createNote(t, "B", "")

	if w := e.do(t, http.MethodPost, "/notes/reorder", map[string]any{"ids": []string{b.ID, a.ID}}); w.Code != http.StatusNoContent {
		t.Fatalf("reorder = %d, body = %s", w.Code, w.Body.String())
	}
	w := e.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || resp.Notes[0].ID != b.ID {
		t.Errorf("list = %+v", resp)
	}

	if w := e.do(t, http.MethodPost, "/notes/reorder", map[string]any{"ids": []string{"ghost"}}); w.Code != http.StatusNotFound {
		t.Errorf("reorder unknown = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/notes/reorder", map[string]any{"ids": []string{}}); w.Code != http.StatusBadRequest {
		t.Errorf("reorder empty = %d, want 400", w.Code)
	}
}

func TestReloadModifiedStats(t *testing.T) {
	e := testEnv(t, "")
	e.createNote(t, "One", "x")

	w := e.do(t, http.MethodPost, "/notes/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload = %d", w.Code)
	}
	var report notes.LoadReport
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if report.Loaded != 1 {
		t.Errorf("loaded = %d", report.Loaded)
	}

	w = e.do(t, http.MethodGet, "/notes/modified", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("modified = %d", w.Code)
	}
	var mod map[string][]string
	_ = json.Unmarshal(w.Body.Bytes(), &mod)
	if len(mod["ids"]) != 0 {
		t.Errorf("modified = %v", mod["ids"])
	}

	w = e.do(t, http.MethodGet, "/stats", nil)
	var st noteservice.Stats
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if w.Code != http.StatusOK || st.Notes != 1 || st.Indexed != 1 {
		t.Errorf("stats = %d %+v", w.Code, st)
	}
}

func TestWindowLifecycle(t *testing.T) {
	e := testEnv(t, "")
	n := e.createNote(t, "Sticky", "")

	w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": n.ID, "x": 10, "y": 20, "width": 500, "height": 400})
	if w.Code != http.StatusCreated {
		t.Fatalf("create window = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": n.ID}); w.Code != http.StatusConflict {
		t.Errorf("second window = %d, want 409", w.Code)
	}

	base := "/windows/" + n.ID
	if w := e.do(t, http.MethodPut, base+"/position", map[string]any{"x": 50, "y": 60}); w.Code != http.StatusOK {
		t.Errorf("move = %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, base+"/size", map[string]any{"width": 0, "height": 300}); w.Code != http.StatusBadRequest {
		t.Errorf("zero width = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPut, base+"/opacity", map[string]any{"opacity": 1.5}); w.Code != http.StatusBadRequest {
		t.Errorf("opacity out of range = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPut, base+"/always-on-top", map[string]any{"always_on_top": true}); w.Code != http.StatusOK {
		t.Errorf("always on top = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, base+"/shade", nil)
	var shade map[string]bool
	_ = json.Unmarshal(w.Body.Bytes(), &shade)
	if w.Code != http.StatusOK || !shade["shaded"] {
		t.Errorf("shade = %d %v", w.Code, shade)
	}
	if w := e.do(t, http.MethodPost, base+"/focus", nil); w.Code != http.StatusNoContent {
		t.Errorf("focus = %d", w.Code)
	}

	w = e.do(t, http.MethodGet, base, nil)
	var rec models.DetachedWindow
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Position != [2]float64{50, 60} || !rec.AlwaysOnTop || !rec.IsShaded {
		t.Errorf("record = %+v", rec)
	}

	if w := e.do(t, http.MethodDelete, base, nil); w.Code != http.StatusNoContent {
		t.Errorf("close = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("close again = %d, want 404", w.Code)
	}
}

func TestCreateWindow_NoFrontend(t *testing.T) {
	_, store := testutil.TestNotesDir(t)
	db := testutil.TestDB(t)
	logger := testutil.Logger()
	repo := notes.New(store, db, tracker.New(), logger)
	if _, _, err := repo.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	bridge := host.NewBridge(broker, logger)
	mgr := windows.NewManager(bridge, repo, workspace.NewStore(filepath.Join(t.TempDir(), "ws.json"), logger), logger)
	svc := noteservice.NewService(repo, db, logger)
	e := &apiEnv{router: NewRouter(svc, mgr, bridge, false, "", nil)}

	n := e.createNote(t, "Lonely", "")
	if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": n.ID}); w.Code != http.StatusBadGateway {
		t.Errorf("create without frontend = %d, want 502", w.Code)
	}
}

func TestHostReportsAndReconcile(t *testing.T) {
	e := testEnv(t, "")
	n := e.createNote(t, "Adopted", "")
	label := models.WindowLabel(n.ID)

	if w := e.do(t, http.MethodPost, "/host/windows", map[string]any{
		"label":    label,
		"geometry": map[string]any{"x": 5, "y": 5, "width": 420, "height": 320},
	}); w.Code != http.StatusNoContent {
		t.Fatalf("register = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/host/windows", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("register without label = %d, want 400", w.Code)
	}

	w := e.do(t, http.MethodPost, "/windows/reconcile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile = %d, body = %s", w.Code, w.Body.String())
	}
	var report windows.Report
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if len(report.Adopted) != 1 || report.Adopted[0] != label {
		t.Errorf("report = %+v", report)
	}

	w = e.do(t, http.MethodDelete, "/host/windows/"+label, nil)
	var res map[string]bool
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || !res["known"] || !res["dropped"] {
		t.Errorf("unregister = %d %v", w.Code, res)
	}
	if e.mgr.IsOpen(n.ID) {
		t.Error("record kept after the user closed the window")
	}
}

func TestFrontendRestartDropsLostWindows(t *testing.T) {
	e := testEnv(t, "")
	n := e.createNote(t, "Lost on restart", "")
	label := models.WindowLabel(n.ID)

	if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": n.ID}); w.Code != http.StatusCreated {
		t.Fatalf("open = %d, body = %s", w.Code, w.Body.String())
	}
	if report := e.reconcile(t); !slices.Contains(report.Consistent, label) {
		t.Fatalf("before restart: report = %+v", report)
	}

	e.reattach(t)
	report := e.reconcile(t)
	if !slices.Contains(report.Dropped, label) {
		t.Errorf("after restart: report = %+v, want %s dropped", report, label)
	}
	if e.mgr.IsOpen(n.ID) {
		t.Error("record for a window the frontend lost is still open")
	}
}

func TestReplaceHostWindows(t *testing.T) {
	e := testEnv(t, "")
	kept := e.createNote(t, "Kept", "")
	gone := e.createNote(t, "Gone", "")
	for _, id := range []string{kept.ID, gone.ID} {
		if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": id}); w.Code != http.StatusCreated {
			t.Fatalf("open %s = %d", id, w.Code)
		}
	}

	// The stream stayed up but the frontend reports only one window.
	body := map[string]any{"windows": []map[string]any{{
		"label":    models.WindowLabel(kept.ID),
		"geometry": map[string]any{"x": 1, "y": 1, "width": 400, "height": 300},
	}}}
	if w := e.do(t, http.MethodPut, "/host/windows", body); w.Code != http.StatusNoContent {
		t.Fatalf("replace = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPut, "/host/windows", map[string]any{"windows": []map[string]any{{}}}); w.Code != http.StatusBadRequest {
		t.Errorf("replace with unlabeled window = %d, want 400", w.Code)
	}

	report := e.reconcile(t)
	if !slices.Contains(report.Consistent, models.WindowLabel(kept.ID)) {
		t.Errorf("kept window not consistent: %+v", report)
	}
	if !slices.Contains(report.Dropped, models.WindowLabel(gone.ID)) {
		t.Errorf("unreported window not dropped: %+v", report)
	}
}

func TestGridRoutes(t *testing.T) {
	e := testEnv(t, "")
	n := e.createNote(t, "Pinned", "")

	if w := e.do(t, http.MethodPut, "/grid/2", map[string]any{"note_id": n.ID}); w.Code != http.StatusNoContent {
		t.Fatalf("assign = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPut, "/grid/10", map[string]any{"note_id": n.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("slot 10 = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/grid/x", map[string]any{"note_id": n.ID}); w.Code != http.StatusBadRequest {
		t.Errorf("slot x = %d, want 400", w.Code)
	}

	w := e.do(t, http.MethodPost, "/grid/2/deploy", nil)
	var rec models.DetachedWindow
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if w.Code != http.StatusOK || rec.NoteID != n.ID {
		t.Errorf("deploy = %d %+v", w.Code, rec)
	}
	if w := e.do(t, http.MethodPost, "/grid/5/deploy", nil); w.Code != http.StatusNotFound {
		t.Errorf("deploy empty slot = %d, want 404", w.Code)
	}
}

func TestToggleVisibility(t *testing.T) {
	e := testEnv(t, "")
	w := e.do(t, http.MethodPost, "/windows/toggle", nil)
	var res windows.ToggleResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res.Visible || res.Skipped {
		t.Errorf("toggle = %d %+v", w.Code, res)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")
	w := e.do(t, http.MethodPost, "/notes", map[string]any{"title": "auth"}, "Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodGet, "/notes", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")
	if w := e.do(t, http.MethodGet, "/windows", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")
	if w := e.do(t, http.MethodGet, "/notes", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, "secret", blockingSSE())
	if w := e.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	e := testEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}

	// Writes never take the query token.
	if w := e.do(t, http.MethodPost, "/notes?access_token=tok", map[string]any{"title": "x"}); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
}

func TestCloseAllAndWorkspace(t *testing.T) {
	e := testEnv(t, "")
	a := e.createNote(t, "A", "")
	b := e.createNote(t, "B", "")
	for _, id := range []string{a.ID, b.ID} {
		if w := e.do(t, http.MethodPost, "/windows", map[string]any{"note_id": id}); w.Code != http.StatusCreated {
			t.Fatalf("open %s = %d", id, w.Code)
		}
	}

	w := e.do(t, http.MethodDelete, "/windows", nil)
	var res map[string]int
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res["closed"] != 2 {
		t.Fatalf("close all = %d %v", w.Code, res)
	}

	w = e.do(t, http.MethodGet, "/workspace", nil)
	var state models.WorkspaceState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if len(state.Windows) != 0 {
		t.Errorf("windows left = %v", state.Windows)
	}
	for _, id := range []string{a.ID, b.ID} {
		if _, ok := state.LastGeometry[id]; !ok {
			t.Errorf("no remembered geometry for %s", id)
		}
	}
}
