package api

import (
	"net/http"
	"strconv"

	"github.com/starford/blink/internal/host"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/windows"
)

// WindowHandler serves the detached window, grid and host routes.
type WindowHandler struct {
	mgr    *windows.Manager
	bridge *host.Bridge
}

// NewWindowHandler creates a new WindowHandler. bridge may be nil when
// windows are driven by something other than the event stream.
func NewWindowHandler(mgr *windows.Manager, bridge *host.Bridge) *WindowHandler {
	return &WindowHandler{mgr: mgr, bridge: bridge}
}

// List handles GET /api/windows.
func (h *WindowHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"windows": h.mgr.List()})
}

// CloseAll handles DELETE /api/windows. Records are cleared even when the
// host fails to close some windows; those failures are still reported.
func (h *WindowHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.mgr.ClearAll(r.Context())
	if err != nil {
		writeError(w, "close all windows", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

// Workspace handles GET /api/workspace: window records, grid slots and
// remembered geometry in one document.
func (h *WindowHandler) Workspace(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Snapshot())
}

// Create handles POST /api/windows.
//
//	@Summary		Open a detached window for a note
//	@Tags			windows
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateWindowRequest	true	"Note and optional geometry"
//	@Success		201		{object}	models.DetachedWindow
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/windows [post]
func (h *WindowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWindowRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	rec, err := h.mgr.Create(r.Context(), windows.CreateRequest(req))
	if err != nil {
		writeError(w, "create window", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/windows/{noteID}.
func (h *WindowHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.mgr.Get(urlParam(r, "noteID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Close handles DELETE /api/windows/{noteID}.
func (h *WindowHandler) Close(w http.ResponseWriter, r *http.Request) {
	closed, err := h.mgr.Close(r.Context(), urlParam(r, "noteID"))
	if err != nil {
		writeError(w, "close window", err)
		return
	}
	if !closed {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Move handles PUT /api/windows/{noteID}/position.
func (h *WindowHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.respond(w, "move window")(h.mgr.Move(r.Context(), urlParam(r, "noteID"), req.X, req.Y))
}

// Resize handles PUT /api/windows/{noteID}/size.
func (h *WindowHandler) Resize(w http.ResponseWriter, r *http.Request) {
	var req SizeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.respond(w, "resize window")(h.mgr.Resize(r.Context(), urlParam(r, "noteID"), req.Width, req.Height))
}

// SetOpacity handles PUT /api/windows/{noteID}/opacity.
func (h *WindowHandler) SetOpacity(w http.ResponseWriter, r *http.Request) {
	var req OpacityRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.respond(w, "set opacity")(h.mgr.SetOpacity(r.Context(), urlParam(r, "noteID"), *req.Opacity))
}

// SetAlwaysOnTop handles PUT /api/windows/{noteID}/always-on-top.
func (h *WindowHandler) SetAlwaysOnTop(w http.ResponseWriter, r *http.Request) {
	var req AlwaysOnTopRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.respond(w, "set always on top")(h.mgr.SetAlwaysOnTop(r.Context(), urlParam(r, "noteID"), *req.AlwaysOnTop))
}

func (h *WindowHandler) respond(w http.ResponseWriter, op string) func(models.DetachedWindow, error) {
	return func(rec models.DetachedWindow, err error) {
		if err != nil {
			writeError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// Shade handles POST /api/windows/{noteID}/shade.
func (h *WindowHandler) Shade(w http.ResponseWriter, r *http.Request) {
	shaded, err := h.mgr.ToggleShade(r.Context(), urlParam(r, "noteID"))
	if err != nil {
		writeError(w, "toggle shade", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shaded": shaded})
}

// Focus handles POST /api/windows/{noteID}/focus.
func (h *WindowHandler) Focus(w http.ResponseWriter, r *http.Request) {
	ok, err := h.mgr.Focus(r.Context(), urlParam(r, "noteID"))
	if err != nil {
		writeError(w, "focus window", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /api/windows/reconcile.
//
//	@Summary		Align window records with the windows the host has open
//	@Tags			windows
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ReconcileRequest	false	"Options"
//	@Success		200		{object}	windows.Report
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/windows/reconcile [post]
func (h *WindowHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	report, err := h.mgr.Reconcile(r.Context(), windows.ReconcileOptions(req))
	if err != nil {
		writeError(w, "reconcile windows", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Toggle handles POST /api/windows/toggle.
func (h *WindowHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.ToggleAllVisibility(r.Context())
	if err != nil {
		writeError(w, "toggle visibility", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func gridSlot(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(urlParam(r, "slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("slot must be a number"))
		return 0, false
	}
	return slot, true
}

// AssignGrid handles PUT /api/grid/{slot}.
func (h *WindowHandler) AssignGrid(w http.ResponseWriter, r *http.Request) {
	slot, ok := gridSlot(w, r)
	if !ok {
		return
	}
	var req GridAssignRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.mgr.AssignGrid(r.Context(), slot, req.NoteID); err != nil {
		writeError(w, "assign grid slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeployGrid handles POST /api/grid/{slot}/deploy.
func (h *WindowHandler) DeployGrid(w http.ResponseWriter, r *http.Request) {
	slot, ok := gridSlot(w, r)
	if !ok {
		return
	}
	h.respond(w, "deploy grid slot")(h.mgr.DeployGrid(r.Context(), slot))
}

// RegisterHostWindow handles POST /api/host/windows. The frontend calls it
// whenever it opens a window.
func (h *WindowHandler) RegisterHostWindow(w http.ResponseWriter, r *http.Request) {
	var req HostWindowRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.bridge.Register(req.live())
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceHostWindows handles PUT /api/host/windows. The frontend sends its
// full window list whenever its stream (re)opens.
func (h *WindowHandler) ReplaceHostWindows(w http.ResponseWriter, r *http.Request) {
	var req HostWindowsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	h.bridge.ReplaceLive(req.live())
	w.WriteHeader(http.StatusNoContent)
}

// UnregisterHostWindow handles DELETE /api/host/windows/{label}. A window
// closed by the user drops its record.
func (h *WindowHandler) UnregisterHostWindow(w http.ResponseWriter, r *http.Request) {
	label := urlParam(r, "label")
	known := h.bridge.Unregister(label)
	dropped := h.mgr.HandleDestroyed(r.Context(), label)
	writeJSON(w, http.StatusOK, map[string]bool{"known": known, "dropped": dropped})
}
