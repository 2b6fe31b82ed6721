package api

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/noteservice"
	"github.com/starford/blink/internal/windows"
)

var noteIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var tagRules = validation.Each(validation.Length(1, 64))

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	ID      string   `json:"id,omitempty" example:"3f1c0a5e-8a4f-4a40-9d39-0f1e2c3b4a5d"`
	Title   string   `json:"title" example:"Groceries"`
	Content string   `json:"content" example:"milk, eggs"`
	Tags    []string `json:"tags" example:"home,errands"`
}

// Validate implements validation.Validatable.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Length(1, 128), validation.Match(noteIDPattern)),
		validation.Field(&r.Title, validation.Length(0, 512)),
		validation.Field(&r.Tags, tagRules),
	)
}

// UpdateNoteRequest is a partial update; omitted fields are left alone.
type UpdateNoteRequest struct {
	Title   *string   `json:"title,omitempty" example:"Groceries"`
	Content *string   `json:"content,omitempty" example:"milk, eggs, bread"`
	Tags    *[]string `json:"tags,omitempty" example:"home"`
}

var errEmptyUpdate = errors.New("at least one of title, content or tags is required")

// Validate implements validation.Validatable.
func (r *UpdateNoteRequest) Validate() error {
	if r.Title == nil && r.Content == nil && r.Tags == nil {
		return errEmptyUpdate
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, 512)),
		validation.Field(&r.Tags, validation.By(func(v any) error {
			tags, _ := v.(*[]string)
			if tags == nil {
				return nil
			}
			return tagRules.Validate(*tags)
		})),
	)
}

func (r *UpdateNoteRequest) input() noteservice.UpdateInput {
	in := noteservice.UpdateInput{Title: r.Title, Content: r.Content}
	if r.Tags != nil {
		in.Tags, in.SetTags = *r.Tags, true
	}
	return in
}

// ReorderRequest lists note ids in their new display order.
type ReorderRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *ReorderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.IDs, validation.Required, validation.Each(validation.Required)),
	)
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// CreateWindowRequest opens a detached window. Omitted geometry falls back
// to the note's last window, then to defaults.
type CreateWindowRequest windows.CreateRequest

// Validate implements validation.Validatable.
func (r *CreateWindowRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.NoteID, validation.Required),
		validation.Field(&r.Width, validation.Min(1.0)),
		validation.Field(&r.Height, validation.Min(1.0)),
	)
}

// PositionRequest moves a window.
type PositionRequest struct {
	X float64 `json:"x" example:"120"`
	Y float64 `json:"y" example:"80"`
}

// Validate implements validation.Validatable.
func (r *PositionRequest) Validate() error { return nil }

// SizeRequest resizes a window.
type SizeRequest struct {
	Width  float64 `json:"width" example:"640"`
	Height float64 `json:"height" example:"480"`
}

// Validate implements validation.Validatable.
func (r *SizeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Width, validation.Required, validation.Min(1.0)),
		validation.Field(&r.Height, validation.Required, validation.Min(1.0)),
	)
}

// OpacityRequest sets window opacity in [0, 1].
type OpacityRequest struct {
	Opacity *float64 `json:"opacity" example:"0.85"`
}

// Validate implements validation.Validatable.
func (r *OpacityRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.Opacity, validation.NotNil))
}

// AlwaysOnTopRequest pins or unpins a window.
type AlwaysOnTopRequest struct {
	AlwaysOnTop *bool `json:"always_on_top" example:"true"`
}

// Validate implements validation.Validatable.
func (r *AlwaysOnTopRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.AlwaysOnTop, validation.NotNil))
}

// ReconcileRequest is the optional body of POST /windows/reconcile.
type ReconcileRequest windows.ReconcileOptions

// Validate implements validation.Validatable.
func (r *ReconcileRequest) Validate() error { return nil }

// GridAssignRequest binds a note to a grid slot.
type GridAssignRequest struct {
	NoteID string `json:"note_id" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *GridAssignRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.NoteID, validation.Required))
}

// HostWindowRequest is sent by the frontend when it opens a window.
type HostWindowRequest struct {
	Label    string          `json:"label" example:"note-3f1c0a5e"`
	Geometry models.Geometry `json:"geometry"`
	Visible  *bool           `json:"visible,omitempty"`
}

// Validate implements validation.Validatable.
func (r *HostWindowRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.Label, validation.Required))
}

func (r *HostWindowRequest) live() models.LiveWindow {
	visible := true
	if r.Visible != nil {
		visible = *r.Visible
	}
	return models.LiveWindow{Label: r.Label, Geometry: r.Geometry, Visible: visible}
}

// HostWindowsRequest carries every window the frontend has open. It is sent
// after each stream.hello.
type HostWindowsRequest struct {
	Windows []HostWindowRequest `json:"windows"`
}

// Validate implements validation.Validatable.
func (r *HostWindowsRequest) Validate() error {
	for i := range r.Windows {
		if err := r.Windows[i].Validate(); err != nil {
			return fmt.Errorf("windows[%d]: %w", i, err)
		}
	}
	return nil
}

func (r *HostWindowsRequest) live() []models.LiveWindow {
	out := make([]models.LiveWindow, 0, len(r.Windows))
	for i := range r.Windows {
		out = append(out, r.Windows[i].live())
	}
	return out
}
