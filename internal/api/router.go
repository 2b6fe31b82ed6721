package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/blink/internal/host"
	"github.com/starford/blink/internal/noteservice"
	"github.com/starford/blink/internal/windows"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// bridge, if non-nil, enables the /host routes the frontend reports to.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, mgr *windows.Manager, bridge *host.Bridge, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	wh := NewWindowHandler(mgr, bridge)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Post("/notes/reorder", h.ReorderNotes)
	r.Post("/notes/reload", h.Reload)
	r.Get("/notes/modified", h.Modified)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)
	r.Get("/stats", h.Stats)

	// Detached windows.
	r.Get("/windows", wh.List)
	r.Post("/windows", wh.Create)
	r.Delete("/windows", wh.CloseAll)
	r.Get("/workspace", wh.Workspace)
	r.Post("/windows/reconcile", wh.Reconcile)
	r.Post("/windows/toggle", wh.Toggle)
	r.Route("/windows/{noteID}", func(r chi.Router) {
		r.Get("/", wh.Get)
		r.Delete("/", wh.Close)
		r.Put("/position", wh.Move)
		r.Put("/size", wh.Resize)
		r.Put("/opacity", wh.SetOpacity)
		r.Put("/always-on-top", wh.SetAlwaysOnTop)
		r.Post("/shade", wh.Shade)
		r.Post("/focus", wh.Focus)
	})

	// Quick-access grid.
	r.Put("/grid/{slot}", wh.AssignGrid)
	r.Post("/grid/{slot}/deploy", wh.DeployGrid)

	// Frontend window reports.
	if bridge != nil {
		r.Post("/host/windows", wh.RegisterHostWindow)
		r.Put("/host/windows", wh.ReplaceHostWindows)
		r.Delete("/host/windows/{label}", wh.UnregisterHostWindow)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
