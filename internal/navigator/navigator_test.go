package navigator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// interleaved returns a shuffled set: quiz, code, quiz, frontend, code.
func interleaved() []model.QuestionForStudent {
	kinds := []model.QuestionKind{
		model.QuestionKindQuiz,
		model.QuestionKindCode,
		model.QuestionKindQuiz,
		model.QuestionKindFrontend,
		model.QuestionKindCode,
	}
	original := []int{3, 0, 4, 1, 2}
	qs := make([]model.QuestionForStudent, len(kinds))
	for i, k := range kinds {
		qs[i] = model.QuestionForStudent{ID: uuid.New(), Kind: k, OriginalIndex: original[i]}
	}
	return qs
}

func TestVisitMarksAndMovesCursor(t *testing.T) {
	n := New(interleaved())
	if n.Current() != 0 {
		t.Fatalf("expected cursor 0, got %d", n.Current())
	}

	if err := n.Visit(3); err != nil {
		t.Fatalf("visit: %v", err)
	}
	e, _ := n.Entry(3)
	if !e.Visited || n.Current() != 3 {
		t.Fatalf("expected entry 3 visited and current, got %+v cursor=%d", e, n.Current())
	}
	if e.OriginalIndex != 1 {
		t.Fatalf("original index lost: %d", e.OriginalIndex)
	}

	if err := n.Visit(9); err != ErrIndexOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestNextPreviousStayWithinKind(t *testing.T) {
	n := New(interleaved())
	_ = n.Visit(0)

	next, ok := n.Next(model.QuestionKindQuiz)
	if !ok || next != 2 {
		t.Fatalf("expected next quiz at 2, got %d %v", next, ok)
	}
	_ = n.Visit(next)
	if _, ok := n.Next(model.QuestionKindQuiz); ok {
		t.Fatalf("expected end of quiz partition")
	}
	prev, ok := n.Previous(model.QuestionKindQuiz)
	if !ok || prev != 0 {
		t.Fatalf("expected previous quiz at 0, got %d %v", prev, ok)
	}

	_ = n.Visit(1)
	next, ok = n.Next(model.QuestionKindCode)
	if !ok || next != 4 {
		t.Fatalf("expected next code at 4, got %d %v", next, ok)
	}
	if _, ok := n.Previous(model.QuestionKindCode); ok {
		t.Fatalf("expected start of code partition")
	}
}

func TestNextFromOtherKindPicksFollowingMember(t *testing.T) {
	n := New(interleaved())
	_ = n.Visit(3) // frontend

	next, ok := n.Next(model.QuestionKindCode)
	if !ok || next != 4 {
		t.Fatalf("expected code at 4, got %d %v", next, ok)
	}
	prev, ok := n.Previous(model.QuestionKindQuiz)
	if !ok || prev != 2 {
		t.Fatalf("expected quiz at 2, got %d %v", prev, ok)
	}
}

func TestSummaryCountsFlags(t *testing.T) {
	qs := interleaved()
	n := New(qs)
	_ = n.Visit(0)
	_ = n.Visit(1)
	_ = n.MarkSaved(1)
	_ = n.MarkCompleted(1, true)
	_ = n.MarkCompleted(4, true)
	_ = n.MarkCompleted(4, false)

	s := n.Summary()
	if s.Total != 5 || s.Visited != 2 || s.Saved != 1 || s.Completed != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestEmptyNavigator(t *testing.T) {
	n := New(nil)
	if n.Current() != -1 {
		t.Fatalf("expected -1 cursor, got %d", n.Current())
	}
	if _, ok := n.Next(""); ok {
		t.Fatalf("expected no next on empty navigator")
	}
}
