// Package navigator keeps visited/saved/completed bookkeeping and the cursor
// over an attempt's shuffled question list. It performs no I/O.
package navigator

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrIndexOutOfRange is returned for an index outside the question list.
var ErrIndexOutOfRange = errors.New("question index out of range")

// Navigator is an ordered list of progress entries plus a cursor.
type Navigator struct {
	entries []model.QuestionProgress
	current int
}

// Summary counts progress flags across all entries.
type Summary struct {
	Total     int `json:"total"`
	Visited   int `json:"visited"`
	Saved     int `json:"saved"`
	Completed int `json:"completed"`
}

// New builds a navigator over questions in served (shuffled) order. The cursor starts at 0, unvisited.
func New(questions []model.QuestionForStudent) *Navigator {
	entries := make([]model.QuestionProgress, len(questions))
	for i, q := range questions {
		entries[i] = model.QuestionProgress{
			QuestionID:    q.ID,
			OriginalIndex: q.OriginalIndex,
			Kind:          q.Kind,
		}
	}
	return &Navigator{entries: entries}
}

func (n *Navigator) Len() int { return len(n.entries) }

// Current returns the cursor index, or -1 when there are no questions.
func (n *Navigator) Current() int {
	if len(n.entries) == 0 {
		return -1
	}
	return n.current
}

// Entry returns a copy of the entry at i.
func (n *Navigator) Entry(i int) (model.QuestionProgress, error) {
	if !n.valid(i) {
		return model.QuestionProgress{}, ErrIndexOutOfRange
	}
	return n.entries[i], nil
}

// Entries returns a copy of all entries.
func (n *Navigator) Entries() []model.QuestionProgress {
	out := make([]model.QuestionProgress, len(n.entries))
	copy(out, n.entries)
	return out
}

// Visit moves the cursor to i and marks it visited.
func (n *Navigator) Visit(i int) error {
	if !n.valid(i) {
		return ErrIndexOutOfRange
	}
	n.current = i
	n.entries[i].Visited = true
	return nil
}

func (n *Navigator) MarkSaved(i int) error {
	if !n.valid(i) {
		return ErrIndexOutOfRange
	}
	n.entries[i].Saved = true
	return nil
}

func (n *Navigator) MarkCompleted(i int, completed bool) error {
	if !n.valid(i) {
		return ErrIndexOutOfRange
	}
	n.entries[i].CompletedFully = completed
	return nil
}

// Next returns the index after the cursor within the kind partition.
// ok is false at the end of the partition. The cursor is not moved.
func (n *Navigator) Next(kind model.QuestionKind) (int, bool) {
	for _, idx := range n.partition(kind) {
		if idx > n.current {
			return idx, true
		}
	}
	return -1, false
}

// Previous returns the index before the cursor within the kind partition.
func (n *Navigator) Previous(kind model.QuestionKind) (int, bool) {
	order := n.partition(kind)
	for i := len(order) - 1; i >= 0; i-- {
		if order[i] < n.current {
			return order[i], true
		}
	}
	return -1, false
}


func (n *Navigator) Summary() Summary {
	s := Summary{Total: len(n.entries)}
	for _, e := range n.entries {
		if e.Visited {
			s.Visited++
		}
		if e.Saved {
			s.Saved++
		}
		if e.CompletedFully {
			s.Completed++
		}
	}
	return s
}

// partition lists served indices of one kind in first-occurrence order.
// An empty kind selects every question.
func (n *Navigator) partition(kind model.QuestionKind) []int {
	order := make([]int, 0, len(n.entries))
	for i, e := range n.entries {
		if kind == "" || e.Kind == kind {
			order = append(order, i)
		}
	}
	return order
}

func (n *Navigator) valid(i int) bool {
	return i >= 0 && i < len(n.entries)
}
