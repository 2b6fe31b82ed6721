package windows

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/testutil"
	"github.com/starford/blink/internal/workspace"
)

type fakeNotes struct {
	notes map[string]*models.Note
}

func newFakeNotes(ids ...string) *fakeNotes {
	f := &fakeNotes{notes: make(map[string]*models.Note)}
	for i, id := range ids {
		f.notes[id] = &models.Note{ID: id, Title: "Note " + id, Position: models.IntPtr(i)}
	}
	return f
}

func (f *fakeNotes) Get(id string) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, apperr.NotFound("get note", id)
	}
	return n.Clone(), nil
}

func (f *fakeNotes) Exists(id string) bool {
	_, ok := f.notes[id]
	return ok
}

func (f *fakeNotes) Sorted() []*models.Note {
	out := make([]*models.Note, 0, len(f.notes))
	for _, n := range f.notes {
		out = append(out, n.Clone())
	}
	models.SortNotes(out)
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Notify(topic, kind, key string) {
	r.mu.Lock()
	r.events = append(r.events, topic+"."+kind+":"+key)
	r.mu.Unlock()
}

func (r *recorder) has(ev string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == ev {
			return true
		}
	}
	return false
}

type env struct {
	host  *testutil.FakeHost
	notes *fakeNotes
	store *workspace.Store
	rec   *recorder
	mgr   *Manager
}

func newTestManager(t *testing.T, ids ...string) *env {
	t.Helper()
	host := testutil.NewFakeHost()
	notes := newFakeNotes(ids...)
	store := workspace.NewStore(filepath.Join(t.TempDir(), "workspace.json"), testutil.Logger())
	rec := &recorder{}
	mgr := NewManager(host, notes, store, testutil.Logger(), WithNotifier(rec))
	if err := mgr.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &env{host: host, notes: notes, store: store, rec: rec, mgr: mgr}
}

func ptr(v float64) *float64 { return &v }

func TestCreate_OffsetsOverlappingWindow(t *testing.T) {
	e := newTestManager(t, "n1", "n2")
	ctx := context.Background()

	w1, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1", X: ptr(100), Y: ptr(100)})
	if err != nil {
		t.Fatal(err)
	}
	if w1.Position != [2]float64{100, 100} {
		t.Fatalf("n1 position = %v", w1.Position)
	}
	w2, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n2", X: ptr(105), Y: ptr(105)})
	if err != nil {
		t.Fatal(err)
	}
	if w2.Position != [2]float64{130, 130} {
		t.Fatalf("n2 position = %v, want [130 130]", w2.Position)
	}
	if live, ok := e.host.Window("note-n2"); !ok || live.Geometry.X != 130 {
		t.Errorf("host window = %+v", live)
	}
	if !e.rec.has("window.opened:n2") {
		t.Error("opened event not sent")
	}
}

func TestCreate_DefaultsCascade(t *testing.T) {
	e := newTestManager(t, "a", "b", "c")
	ctx := context.Background()
	var got [][2]float64
	for _, id := range []string{"a", "b", "c"} {
		w, err := e.mgr.Create(ctx, CreateRequest{NoteID: id})
		if err != nil {
			t.Fatal(err)
		}
		if w.Size != [2]float64{800, 600} {
			t.Errorf("%s size = %v", id, w.Size)
		}
		got = append(got, w.Position)
	}
	want := [][2]float64{{100, 100}, {130, 130}, {160, 160}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window %d at %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCreate_Errors(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()

	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note: expected ErrNotFound, got %v", err)
	}
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second window: expected ErrConflict, got %v", err)
	}

	e2 := newTestManager(t, "n2")
	e2.host.Fail("note-n2", errors.New("webview crashed"))
	if _, err := e2.mgr.Create(ctx, CreateRequest{NoteID: "n2"}); !errors.Is(err, apperr.ErrHostRuntime) {
		t.Errorf("host failure: expected ErrHostRuntime, got %v", err)
	}
	if e2.mgr.IsOpen("n2") {
		t.Error("failed create left a record")
	}
}

func TestCreate_MinimumSize(t *testing.T) {
	e := newTestManager(t, "n1")
	w, err := e.mgr.Create(context.Background(), CreateRequest{NoteID: "n1", Width: ptr(100), Height: ptr(50)})
	if err != nil {
		t.Fatal(err)
	}
	if w.Size != [2]float64{400, 300} {
		t.Errorf("size = %v, want minimum", w.Size)
	}
}

func TestCloseRemembersGeometry(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Move(ctx, "n1", 400, 250); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Resize(ctx, "n1", 640, 480); err != nil {
		t.Fatal(err)
	}

	closed, err := e.mgr.Close(ctx, "n1")
	if err != nil || !closed {
		t.Fatalf("close: %v %v", closed, err)
	}
	if _, ok := e.host.Window("note-n1"); ok {
		t.Error("host window still open")
	}
	if closed, _ := e.mgr.Close(ctx, "n1"); closed {
		t.Error("closing twice should report false")
	}

	w, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Position != [2]float64{400, 250} || w.Size != [2]float64{640, 480} {
		t.Errorf("reopened at %v size %v", w.Position, w.Size)
	}
}

func TestToggleShade(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1", Height: ptr(500)}); err != nil {
		t.Fatal(err)
	}

	shaded, err := e.mgr.ToggleShade(ctx, "n1")
	if err != nil || !shaded {
		t.Fatalf("shade: %v %v", shaded, err)
	}
	rec, _ := e.mgr.Get("n1")
	if rec.Size[1] != 48 || rec.OriginalHeight == nil || *rec.OriginalHeight != 500 {
		t.Errorf("shaded record = %+v", rec)
	}
	if live, _ := e.host.Window("note-n1"); live.Geometry.Height != 48 {
		t.Errorf("host height = %v", live.Geometry.Height)
	}

	shaded, err = e.mgr.ToggleShade(ctx, "n1")
	if err != nil || shaded {
		t.Fatalf("unshade: %v %v", shaded, err)
	}
	rec, _ = e.mgr.Get("n1")
	if rec.Size[1] != 500 || rec.OriginalHeight != nil || rec.IsShaded {
		t.Errorf("unshaded record = %+v", rec)
	}

	e.host.Fail("note-n1", errors.New("gone"))
	if _, err := e.mgr.ToggleShade(ctx, "n1"); !errors.Is(err, apperr.ErrHostRuntime) {
		t.Errorf("expected ErrHostRuntime, got %v", err)
	}
	if rec, _ := e.mgr.Get("n1"); rec.IsShaded {
		t.Error("record changed despite host failure")
	}
	if _, err := e.mgr.ToggleShade(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetOpacityAndOnTop(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.SetOpacity(ctx, "n1", 1.5); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := e.mgr.SetOpacity(ctx, "n1", 0.4); err != nil {
		t.Fatal(err)
	}
	rec, err := e.mgr.SetAlwaysOnTop(ctx, "n1", true)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Opacity != 0.4 || !rec.AlwaysOnTop {
		t.Errorf("record = %+v", rec)
	}
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1", X: ptr(10), Y: ptr(20)}); err != nil {
		t.Fatal(err)
	}
	if err := e.mgr.AssignGrid(ctx, 2, "n1"); err != nil {
		t.Fatal(err)
	}

	again := NewManager(e.host, e.notes, e.store, testutil.Logger())
	if err := again.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	rec, ok := again.Get("n1")
	if !ok || rec.Position != [2]float64{10, 20} {
		t.Errorf("restored record = %+v, %v", rec, ok)
	}
	if id, ok := again.GridAssignment(2); !ok || id != "n1" {
		t.Errorf("grid slot 2 = %q", id)
	}
}

func TestReconcile_RemovesRecordClosedByOS(t *testing.T) {
	e := newTestManager(t, "n1", "n2")
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: id}); err != nil {
			t.Fatal(err)
		}
	}
	e.host.Vanish("note-n1")

	report, err := e.mgr.Reconcile(ctx, ReconcileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Dropped) != 1 || report.Dropped[0] != "note-n1" {
		t.Fatalf("dropped = %v", report.Dropped)
	}
	if len(report.Consistent) != 1 || report.Consistent[0] != "note-n2" {
		t.Errorf("consistent = %v", report.Consistent)
	}
	if e.mgr.IsOpen("n1") {
		t.Error("stale record survived")
	}
	state, err := e.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := state.Windows["note-n1"]; ok {
		t.Error("stale record still persisted")
	}
}

func TestReconcile_RecreateMissing(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1", X: ptr(300), Y: ptr(300)}); err != nil {
		t.Fatal(err)
	}
	e.host.Vanish("note-n1")

	report, err := e.mgr.Reconcile(ctx, ReconcileOptions{RecreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Recreated) != 1 {
		t.Fatalf("recreated = %v", report.Recreated)
	}
	live, ok := e.host.Window("note-n1")
	if !ok || live.Geometry.X != 300 {
		t.Errorf("recreated window = %+v", live)
	}
}

func TestReconcile_ContinuesPastFailures(t *testing.T) {
	e := newTestManager(t, "n1", "n2")
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: id}); err != nil {
			t.Fatal(err)
		}
	}
	e.host.Vanish("note-n1")
	e.host.Vanish("note-n2")
	e.host.Fail("note-n1", errors.New("no display"))

	report, err := e.mgr.Reconcile(ctx, ReconcileOptions{RecreateMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 1 || report.Errors[0].Label != "note-n1" {
		t.Errorf("errors = %+v", report.Errors)
	}
	if len(report.Recreated) != 1 || report.Recreated[0] != "note-n2" {
		t.Errorf("recreated = %v", report.Recreated)
	}
}

func TestReconcile_OrphansAndEphemeral(t *testing.T) {
	e := newTestManager(t, "known")
	ctx := context.Background()
	e.host.Open("note-known", models.Geometry{X: 5, Y: 6, Width: 500, Height: 400})
	e.host.Open("note-deleted", models.Geometry{X: 1, Y: 1, Width: 500, Height: 400})
	e.host.Open(models.DragGhostLabel, models.Geometry{})
	e.host.Open("hybrid-drag-known", models.Geometry{})
	e.host.Open("settings", models.Geometry{})

	report, err := e.mgr.Reconcile(ctx, ReconcileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Adopted) != 1 || report.Adopted[0] != "note-known" {
		t.Errorf("adopted = %v", report.Adopted)
	}
	if len(report.Ignored) != 2 {
		t.Errorf("ignored = %v", report.Ignored)
	}
	for _, label := range append(report.Ignored, report.Adopted...) {
		if models.IsEphemeralLabel(label) || label == models.MainWindowLabel {
			t.Errorf("%s should never be classified", label)
		}
	}
	rec, ok := e.mgr.Get("known")
	if !ok || rec.Position != [2]float64{5, 6} {
		t.Errorf("adopted record = %+v", rec)
	}
}

func TestRestore_PurgesEphemeralRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.json")
	store := workspace.NewStore(path, testutil.Logger())
	state := models.NewWorkspaceState(workspace.DefaultName, time.Now())
	state.Windows["hybrid-drag-n1"] = models.DetachedWindow{NoteID: "n1", WindowLabel: "hybrid-drag-n1", Size: [2]float64{300, 200}, Opacity: 1}
	state.Windows["note-n1"] = models.DetachedWindow{NoteID: "n1", WindowLabel: "note-n1", Size: [2]float64{300, 200}, Opacity: 1}
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(testutil.NewFakeHost(), newFakeNotes("n1"), store, testutil.Logger())
	if err := mgr.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	list := mgr.List()
	if len(list) != 1 || list[0].WindowLabel != "note-n1" {
		t.Errorf("records = %+v", list)
	}
}

func TestHandleDestroyed(t *testing.T) {
	e := newTestManager(t, "n1")
	ctx := context.Background()
	if _, err := e.mgr.Create(ctx, CreateRequest{NoteID: "n1"}); err != nil {
		t.Fatal(err)
	}
	e.host.Vanish("note-n1")
	if !e.mgr.HandleDestroyed(ctx, "note-n1") {
		t.Fatal("expected record to be removed")
	}
	if e.mgr.HandleDestroyed(ctx, "note-n1") {
		t.Error("second call should be a no-op")
	}
	if !e.rec.has("window.closed:n1") {
		t.Error("closed event not sent")
	}
}
