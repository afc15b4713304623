package board

import (
	"errors"
	"testing"
)

func TestNormalizeDropsCounters(t *testing.T) {
	a, err := Normalize("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b, err := Normalize("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 42 99")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
}

func TestNormalizeDistinguishesSideAndRights(t *testing.T) {
	base := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"
	a, _ := Normalize(base + " w KQkq - 0 1")
	b, _ := Normalize(base + " b KQkq - 0 1")
	c, _ := Normalize(base + " w Qkq - 0 1")
	if a == b {
		t.Error("side to move not part of key")
	}
	if a == c {
		t.Error("castling rights not part of key")
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name string
		fen  string
	}{
		{"empty", ""},
		{"too few fields", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq"},
		{"seven ranks", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1"},
		{"short rank", "rnbqkbnr/ppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
		{"long rank", "rnbqkbnr/ppppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
		{"no white king", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQQBNR w KQkq - 0 1"},
		{"two black kings", "rnbqkknr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
		{"bad piece", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNX w KQkq - 0 1"},
		{"pawn on back rank", "Pnbqkbnr/pppppppp/8/8/8/8/1PPPPPPP/RNBQKBNR w KQkq - 0 1"},
		{"nine pawns", "rnbqkbnr/pppppppp/p7/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"},
		{"bad side", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1"},
		{"bad castling", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQxq - 0 1"},
		{"dup castling", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KKkq - 0 1"},
		{"bad ep square", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq z6 0 1"},
		{"ep wrong rank", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq e3 0 1"},
	}
	for _, tt := range tests {
		if _, err := Normalize(tt.fen); !errors.Is(err, ErrInvalidPosition) {
			t.Errorf("%s: got %v, want ErrInvalidPosition", tt.name, err)
		}
	}
}

func TestKeyFEN(t *testing.T) {
	key, err := Normalize(StartingFEN)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	if key.FEN() != want {
		t.Errorf("FEN() = %q, want %q", key.FEN(), want)
	}
}

func TestEngineApply(t *testing.T) {
	pos := NewEngine().NewGame()
	start, err := pos.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if start != StartingKey() {
		t.Errorf("starting key = %q, want %q", start, StartingKey())
	}

	key, err := pos.Apply("e4")
	if err != nil {
		t.Fatalf("Apply e4: %v", err)
	}
	if key == start {
		t.Error("key unchanged after e4")
	}

	if _, err := pos.Apply("Ke4"); !errors.Is(err, ErrIllegalMove) {
		t.Errorf("Apply Ke4: got %v, want ErrIllegalMove", err)
	}
}

func TestEngineTransposition(t *testing.T) {
	// 1. Nf3 d5 2. g3 and 1. g3 d5 2. Nf3 reach the same position.
	a := NewEngine().NewGame()
	for _, san := range []string{"Nf3", "d5", "g3"} {
		if _, err := a.Apply(san); err != nil {
			t.Fatalf("Apply %s: %v", san, err)
		}
	}
	b := NewEngine().NewGame()
	for _, san := range []string{"g3", "d5", "Nf3"} {
		if _, err := b.Apply(san); err != nil {
			t.Fatalf("Apply %s: %v", san, err)
		}
	}
	ka, err := a.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	kb, err := b.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if ka != kb {
		t.Errorf("transposed positions got different keys:\n%s\n%s", ka, kb)
	}
}

func TestCleanSAN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Nf3", "Nf3"},
		{"e4!", "e4"},
		{"Qxf7#", "Qxf7"},
		{"Bb5+?!", "Bb5"},
		{"  O-O ", "O-O"},
	}
	for _, tt := range tests {
		if got := CleanSAN(tt.in); got != tt.want {
			t.Errorf("CleanSAN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
