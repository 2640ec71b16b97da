package mines

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestCellReveal(t *testing.T) {
	c := newCell(2, 3)
	if c.IsRevealed() {
		t.Fatal("new cell should be hidden")
	}
	if !c.Reveal() {
		t.Fatal("first Reveal should report the transition")
	}
	if c.Reveal() {
		t.Error("second Reveal should be a no-op")
	}
	if !c.IsRevealed() {
		t.Error("cell should stay revealed")
	}
	if got := c.Position(); got != (Position{X: 2, Y: 3}) {
		t.Errorf("unexpected position %+v", got)
	}
}

func TestCellMarkAsMine(t *testing.T) {
	c := newCell(0, 0)
	if err := c.MarkAsMine(); err != nil {
		t.Fatalf("MarkAsMine: %v", err)
	}
	if !c.IsMine() {
		t.Fatal("cell should be a mine")
	}
	if err := c.MarkAsMine(); !errors.Is(err, ErrAlreadyMine) {
		t.Errorf("expected ErrAlreadyMine, got %v", err)
	}

	revealed := newCell(1, 1)
	revealed.Reveal()
	if err := revealed.MarkAsMine(); !errors.Is(err, ErrCellRevealed) {
		t.Errorf("expected ErrCellRevealed, got %v", err)
	}
	if revealed.IsMine() {
		t.Error("revealed cell must not become a mine")
	}
}

func TestPositionIndex(t *testing.T) {
	for i := 0; i < 25; i++ {
		p := PositionAt(i, 5)
		if p.Index(5) != i {
			t.Errorf("index %d round-tripped to %d", i, p.Index(5))
		}
	}
	if p := PositionAt(7, 5); p != (Position{X: 2, Y: 1}) {
		t.Errorf("PositionAt(7, 5) = %+v", p)
	}
}

func TestNewGridMineCount(t *testing.T) {
	src := rand.New(rand.NewPCG(1, 2))
	for m := 1; m <= 24; m++ {
		g, err := NewGrid(5, m, src)
		if err != nil {
			t.Fatalf("NewGrid(5, %d): %v", m, err)
		}
		mines := g.Mines()
		if len(mines) != m {
			t.Errorf("mines=%d: got %d mine cells", m, len(mines))
		}
		if g.SafeCells() != 25-m {
			t.Errorf("mines=%d: got %d safe cells", m, g.SafeCells())
		}
		seen := make(map[Position]bool)
		for _, p := range mines {
			if !g.InBounds(p.X, p.Y) {
				t.Errorf("mine %+v out of bounds", p)
			}
			if seen[p] {
				t.Errorf("duplicate mine %+v", p)
			}
			seen[p] = true
		}
	}
}

func TestNewGridVaries(t *testing.T) {
	layouts := make(map[string]bool)
	for i := 0; i < 20; i++ {
		g, err := NewGrid(5, 3, nil)
		if err != nil {
			t.Fatalf("NewGrid: %v", err)
		}
		key := ""
		for _, p := range g.Mines() {
			key += string(rune('a' + p.Index(5)))
		}
		layouts[key] = true
	}
	if len(layouts) < 2 {
		t.Error("20 generations produced a single mine layout")
	}
}

func TestNewGridRejectsMineCount(t *testing.T) {
	for _, m := range []int{0, -1, 25, 30} {
		if _, err := NewGrid(5, m, nil); !errors.Is(err, ErrInvalidMineCount) {
			t.Errorf("mines=%d: expected ErrInvalidMineCount, got %v", m, err)
		}
	}
}
