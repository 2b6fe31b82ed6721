package notes

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/starford/blink/internal/models"
)

func pnote(id string, pos *int, created time.Time) *models.Note {
	return &models.Note{ID: id, Title: id, CreatedAt: created, UpdatedAt: created, Position: pos}
}

func byIDOf(notes []*models.Note) map[string]*models.Note {
	out := make(map[string]*models.Note, len(notes))
	for _, n := range notes {
		out[n.ID] = n
	}
	return out
}

func TestDetectConflicts_NoneWhenDistinct(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := []*models.Note{
		pnote("a", models.IntPtr(0), t0),
		pnote("b", models.IntPtr(1), t0),
		pnote("c", nil, t0),
	}
	report := DetectConflicts(notes, nil)
	if !report.Empty() {
		t.Fatalf("expected no conflicts, got %+v", report.Conflicts)
	}
	if report.Kept[0] != "a" || report.Kept[1] != "b" {
		t.Errorf("kept = %v", report.Kept)
	}
	if ApplyRepairs(byIDOf(notes), report) != nil {
		t.Error("expected no repairs")
	}
}

func TestDetectConflicts_OlderNoteKeepsPosition(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := []*models.Note{
		pnote("young", models.IntPtr(0), t0.Add(time.Hour)),
		pnote("old", models.IntPtr(0), t0),
	}
	report := DetectConflicts(notes, nil)
	if report.Kept[0] != "old" {
		t.Fatalf("kept[0] = %q, want old", report.Kept[0])
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0].NoteID != "young" || report.Conflicts[0].Reason != ReasonDuplicate {
		t.Fatalf("conflicts = %+v", report.Conflicts)
	}
	if report.Claims[0] != 2 {
		t.Errorf("claims[0] = %d, want 2", report.Claims[0])
	}

	repairs := ApplyRepairs(byIDOf(notes), report)
	if len(repairs) != 1 || repairs[0].To != 1 || repairs[0].From != 0 {
		t.Fatalf("repairs = %+v", repairs)
	}
	if *notes[0].Position != 1 {
		t.Errorf("young position = %d, want 1", *notes[0].Position)
	}
}

func TestDetectConflicts_PriorOwnerWins(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := []*models.Note{
		pnote("old", models.IntPtr(3), t0),
		pnote("young", models.IntPtr(3), t0.Add(time.Hour)),
	}
	report := DetectConflicts(notes, map[int]string{3: "young"})
	if report.Kept[3] != "young" {
		t.Fatalf("kept[3] = %q, want young", report.Kept[3])
	}
	repairs := ApplyRepairs(byIDOf(notes), report)
	if len(repairs) != 1 || repairs[0].NoteID != "old" || repairs[0].To != 0 {
		t.Fatalf("repairs = %+v", repairs)
	}
}

func TestApplyRepairs_LeavesGapsBetweenKeptPositions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := []*models.Note{
		pnote("a", models.IntPtr(0), t0),
		pnote("b", models.IntPtr(5), t0),
	}
	report := DetectConflicts(notes, nil)
	if repairs := ApplyRepairs(byIDOf(notes), report); repairs != nil {
		t.Fatalf("repairs = %+v, want none", repairs)
	}
	if *notes[0].Position != 0 || *notes[1].Position != 5 {
		t.Errorf("positions = %d, %d, want 0, 5", *notes[0].Position, *notes[1].Position)
	}

	// A conflict fills the lowest gap rather than shifting kept notes.
	notes = append(notes, pnote("c", models.IntPtr(5), t0.Add(time.Minute)))
	repairs := ApplyRepairs(byIDOf(notes), DetectConflicts(notes, nil))
	if len(repairs) != 1 || repairs[0].NoteID != "c" || repairs[0].To != 1 {
		t.Fatalf("repairs = %+v", repairs)
	}
	if *notes[1].Position != 5 {
		t.Errorf("kept note moved to %d", *notes[1].Position)
	}
}

func TestApplyRepairs_NegativeAndGaps(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := []*models.Note{
		pnote("neg", models.IntPtr(-4), t0),
		pnote("zero", models.IntPtr(0), t0),
		pnote("two", models.IntPtr(2), t0),
		pnote("dup", models.IntPtr(2), t0.Add(time.Minute)),
	}
	report := DetectConflicts(notes, nil)
	repairs := ApplyRepairs(byIDOf(notes), report)

	got := map[string]int{}
	for _, r := range repairs {
		got[r.NoteID] = r.To
	}
	if got["neg"] != 1 || got["dup"] != 3 {
		t.Fatalf("repairs = %+v", repairs)
	}
	if report.Conflicts[0].Reason != ReasonNegative {
		t.Errorf("first conflict reason = %s", report.Conflicts[0].Reason)
	}
}

func TestRepair_UniqueDeterministicIdempotent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		positions := make([]*int, n)
		created := make([]int, n)
		for i := range n {
			if rapid.Bool().Draw(t, fmt.Sprintf("positioned%d", i)) {
				positions[i] = models.IntPtr(rapid.IntRange(-3, 6).Draw(t, fmt.Sprintf("pos%d", i)))
			}
			created[i] = rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("created%d", i))
		}
		build := func() []*models.Note {
			out := make([]*models.Note, n)
			for i := range n {
				var p *int
				if positions[i] != nil {
					p = models.IntPtr(*positions[i])
				}
				out[i] = pnote(fmt.Sprintf("n%02d", i), p, base.Add(time.Duration(created[i])*time.Hour))
			}
			return out
		}

		first := build()
		ApplyRepairs(byIDOf(first), DetectConflicts(first, nil))

		seen := map[int]string{}
		for _, note := range first {
			if note.Position == nil {
				continue
			}
			p := *note.Position
			if p < 0 {
				t.Fatalf("%s left at negative position %d", note.ID, p)
			}
			if other, dup := seen[p]; dup {
				t.Fatalf("%s and %s share position %d", other, note.ID, p)
			}
			seen[p] = note.ID
		}

		built := build()
		perm := rapid.Permutation(indexes(n)).Draw(t, "order")
		second := make([]*models.Note, n)
		for i, j := range perm {
			second[i] = built[j]
		}
		ApplyRepairs(byIDOf(second), DetectConflicts(second, nil))
		want := byIDOf(first)
		for _, note := range second {
			if !models.EqualPosition(note.Position, want[note.ID].Position) {
				t.Fatalf("%s repaired differently depending on input order", note.ID)
			}
		}

		if again := DetectConflicts(first, nil); !again.Empty() {
			t.Fatalf("second pass found conflicts: %+v", again.Conflicts)
		}
	})
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
