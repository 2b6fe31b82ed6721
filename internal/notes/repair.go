package notes

import (
	"sort"

	"github.com/starford/blink/internal/models"
)

// ConflictReason says why a note's position must be reassigned.
type ConflictReason string

const (
	ReasonNegative  ConflictReason = "negative"
	ReasonDuplicate ConflictReason = "duplicate"
)

// PositionConflict is one note whose claimed position cannot stand.
type PositionConflict struct {
	NoteID  string         `json:"note_id"`
	Claimed int            `json:"claimed"`
	Reason  ConflictReason `json:"reason"`
}

// ConflictReport is the result of DetectConflicts.
type ConflictReport struct {
	// Claims counts how many notes claim each position.
	Claims map[int]int `json:"claims"`
	// Kept maps each position that stands to its holder.
	Kept map[int]string `json:"kept"`
	// Conflicts lists the notes to reassign, in repair order.
	Conflicts []PositionConflict `json:"conflicts"`
}

// Empty reports whether nothing needs repair.
func (r ConflictReport) Empty() bool {
	return len(r.Conflicts) == 0
}

// PositionRepair records one reassignment.
type PositionRepair struct {
	NoteID string `json:"note_id"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

// DetectConflicts finds notes whose position is negative or already held by
// another note. Among notes claiming the same position, the one prior held
// at that position wins, then the oldest, then the lowest id. Notes without
// a position are never reported. notes is not modified.
func DetectConflicts(notes []*models.Note, prior map[int]string) ConflictReport {
	report := ConflictReport{
		Claims: make(map[int]int),
		Kept:   make(map[int]string),
	}

	positioned := make([]*models.Note, 0, len(notes))
	for _, n := range notes {
		if n.Position == nil {
			continue
		}
		positioned = append(positioned, n)
		report.Claims[*n.Position]++
	}

	sort.SliceStable(positioned, func(i, j int) bool {
		a, b := positioned[i], positioned[j]
		pa, pb := *a.Position, *b.Position
		if pa != pb {
			return pa < pb
		}
		ownA, ownB := prior[pa] == a.ID, prior[pb] == b.ID
		if ownA != ownB {
			return ownA
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, n := range positioned {
		p := *n.Position
		switch {
		case p < 0:
			report.Conflicts = append(report.Conflicts, PositionConflict{NoteID: n.ID, Claimed: p, Reason: ReasonNegative})
		case report.Kept[p] != "":
			report.Conflicts = append(report.Conflicts, PositionConflict{NoteID: n.ID, Claimed: p, Reason: ReasonDuplicate})
		default:
			report.Kept[p] = n.ID
		}
	}
	return report
}

// ApplyRepairs gives every conflicting note the lowest position that is
// neither kept nor already handed out, scanning upward from the last
// assignment. It mutates the notes in byID and returns what it changed.
// Kept positions are never moved, so gaps between them survive a repair;
// Reorder is what compacts positions to 0..n-1.
func ApplyRepairs(byID map[string]*models.Note, report ConflictReport) []PositionRepair {
	if report.Empty() {
		return nil
	}
	used := make(map[int]struct{}, len(report.Kept)+len(report.Conflicts))
	for p := range report.Kept {
		used[p] = struct{}{}
	}

	repairs := make([]PositionRepair, 0, len(report.Conflicts))
	next := 0
	for _, c := range report.Conflicts {
		n, ok := byID[c.NoteID]
		if !ok {
			continue
		}
		for {
			if _, taken := used[next]; !taken {
				break
			}
			next++
		}
		used[next] = struct{}{}
		n.Position = models.IntPtr(next)
		repairs = append(repairs, PositionRepair{NoteID: c.NoteID, From: c.Claimed, To: next})
		next++
	}
	return repairs
}
