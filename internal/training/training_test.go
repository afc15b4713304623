package training

import (
	"context"
	"errors"
	"testing"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/stats"
	"github.com/openingbook/repertoire/internal/tree"
)

// buildTree inserts a small repertoire:
//
//	root -> e4 -> e5 -> Nf3
//	             \-> c5
//	root -> d4 (no games: not owned)
//
// Every owned edge carries one recorded game.
func buildTree(t *testing.T) (*tree.Tree, map[string]tree.NodeID) {
	t.Helper()
	tr := tree.New()
	ids := make(map[string]tree.NodeID)
	insert := func(parent tree.NodeID, san, name string, owned bool) tree.NodeID {
		n, _, err := tr.InsertMove(parent, san, board.PositionKey("pos:"+name))
		if err != nil {
			t.Fatalf("InsertMove %s: %v", san, err)
		}
		if owned {
			if err := tr.RecordOutcome(n.ID, stats.Win, 0, false); err != nil {
				t.Fatal(err)
			}
		}
		ids[name] = n.ID
		return n.ID
	}
	e4 := insert(tr.RootID(), "e4", "e4", true)
	e5 := insert(e4, "e5", "e5", true)
	insert(e5, "Nf3", "Nf3", true)
	insert(e4, "c5", "c5", true)
	insert(tr.RootID(), "d4", "d4", false)
	return tr, ids
}

func TestUnknownSession(t *testing.T) {
	tr, _ := buildTree(t)
	st := NewStore(tr)
	if err := st.MarkStudied("nope", "x"); !errors.Is(err, ErrNoSession) {
		t.Errorf("MarkStudied: %v", err)
	}
	if _, err := st.RecordMistake("nope"); !errors.Is(err, ErrNoSession) {
		t.Errorf("RecordMistake: %v", err)
	}
	if _, err := st.Progress("nope"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Progress: %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	a := st.Start()
	b := st.Start()
	if a == b {
		t.Fatal("duplicate session ids")
	}

	if err := st.MarkStudied(a, ids["e4"]); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordMistake(a); err != nil {
		t.Fatal(err)
	}

	pa, err := st.Progress(a)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := st.Progress(b)
	if err != nil {
		t.Fatal(err)
	}
	if pa.StudiedNodes != 1 || pa.Mistakes != 1 {
		t.Errorf("session a progress = %+v", pa)
	}
	if pb.StudiedNodes != 0 || pb.Mistakes != 0 {
		t.Errorf("session b saw a's state: %+v", pb)
	}

	st.Drop(a)
	if _, err := st.Progress(a); !errors.Is(err, ErrNoSession) {
		t.Errorf("dropped session still answers: %v", err)
	}
	if _, err := st.Progress(b); err != nil {
		t.Errorf("dropping a killed b: %v", err)
	}
}

func TestDirectlyLearnedCredit(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()

	newly, err := st.MarkDirectlyLearned(sid, ids["e4"])
	if err != nil || !newly {
		t.Fatalf("first mark = %v, %v", newly, err)
	}
	newly, err = st.MarkDirectlyLearned(sid, ids["e4"])
	if err != nil || newly {
		t.Errorf("repeat mark = %v, %v, want false", newly, err)
	}

	was, err := st.UnmarkDirectlyLearned(sid, ids["e4"])
	if err != nil || !was {
		t.Fatalf("unmark = %v, %v", was, err)
	}
	was, err = st.UnmarkDirectlyLearned(sid, ids["e4"])
	if err != nil || was {
		t.Errorf("repeat unmark = %v, %v, want false", was, err)
	}

	learned, err := st.LearnedNodeIDs(sid)
	if err != nil || len(learned) != 0 {
		t.Errorf("learned = %v, %v", learned, err)
	}
}

func TestMistakesOnlyGrow(t *testing.T) {
	tr, _ := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()
	for want := 1; want <= 3; want++ {
		got, err := st.RecordMistake(sid)
		if err != nil || got != want {
			t.Fatalf("RecordMistake = %d, %v, want %d", got, err, want)
		}
	}
	if n, _ := st.MistakeCount(sid); n != 3 {
		t.Errorf("MistakeCount = %d, want 3", n)
	}
}

func TestUnstudiedMoves(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()

	edges, err := st.UnstudiedMoves(sid, ids["e4"])
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("unstudied = %d edges, want 2", len(edges))
	}

	if err := st.MarkStudied(sid, ids["e5"]); err != nil {
		t.Fatal(err)
	}
	edges, err = st.UnstudiedMoves(sid, ids["e4"])
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].SAN != "c5" {
		t.Errorf("unstudied after marking e5 = %v", edges)
	}

	// Unowned children never show up.
	edges, err = st.UnstudiedMoves(sid, tr.RootID())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		if e.SAN == "d4" {
			t.Error("unowned move offered for study")
		}
	}

	// A vanished node is an empty answer, not an error.
	edges, err = st.UnstudiedMoves(sid, "gone")
	if err != nil || edges != nil {
		t.Errorf("vanished node = %v, %v", edges, err)
	}
}

func TestAllStudied(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()

	done, err := st.AllStudied(sid)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("fresh session already done")
	}

	// Marking the interior e5 is not enough: c5 is a separate leaf.
	if err := st.MarkStudied(sid, ids["Nf3"]); err != nil {
		t.Fatal(err)
	}
	if done, _ = st.AllStudied(sid); done {
		t.Fatal("done with c5 unstudied")
	}
	if err := st.MarkStudied(sid, ids["c5"]); err != nil {
		t.Fatal(err)
	}
	// e4 and e5 are covered transitively through their children.
	if done, _ = st.AllStudied(sid); !done {
		t.Error("all leaves studied but not reported done")
	}
}

func TestAllStudiedEmptyRepertoire(t *testing.T) {
	st := NewStore(tree.New())
	sid := st.Start()
	done, err := st.AllStudied(sid)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("empty repertoire should be trivially studied")
	}
}

func TestDeletedNodesTolerated(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()
	if err := st.MarkStudied(sid, ids["Nf3"]); err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkDirectlyLearned(sid, ids["Nf3"]); err != nil {
		t.Fatal(err)
	}

	if _, err := tr.DeleteSubtree(context.Background(), ids["e5"]); err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}

	p, err := st.Progress(sid)
	if err != nil {
		t.Fatal(err)
	}
	// The studied mark for the deleted node no longer counts; the
	// learned credit is session state and survives.
	if p.StudiedNodes != 0 {
		t.Errorf("StudiedNodes = %d, want 0", p.StudiedNodes)
	}
	if p.TotalNodes != 2 {
		t.Errorf("TotalNodes = %d, want 2", p.TotalNodes)
	}
	if p.DirectlyLearned != 1 {
		t.Errorf("DirectlyLearned = %d, want 1", p.DirectlyLearned)
	}
}

func TestProgressCounts(t *testing.T) {
	tr, ids := buildTree(t)
	st := NewStore(tr)
	sid := st.Start()
	if err := st.MarkStudied(sid, ids["e4"]); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkStudied(sid, ids["c5"]); err != nil {
		t.Fatal(err)
	}
	p, err := st.Progress(sid)
	if err != nil {
		t.Fatal(err)
	}
	// Four owned nodes: e4, e5, Nf3, c5. d4 has no games.
	if p.TotalNodes != 4 {
		t.Errorf("TotalNodes = %d, want 4", p.TotalNodes)
	}
	if p.StudiedNodes != 2 {
		t.Errorf("StudiedNodes = %d, want 2", p.StudiedNodes)
	}
}
