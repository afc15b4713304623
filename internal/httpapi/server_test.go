package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/ingest"
	"github.com/openingbook/repertoire/internal/stats"
	"github.com/openingbook/repertoire/internal/training"
	"github.com/openingbook/repertoire/internal/tree"
)

func newTestServer(t *testing.T) (*httptest.Server, *tree.Tree) {
	t.Helper()
	tr := tree.New()
	eng := board.NewEngine()
	srv := NewServer(tr, training.NewStore(tr), eng, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

// seed ingests one win through the real rules engine so the tree holds
// root -> e4 -> e5.
func seed(t *testing.T, tr *tree.Tree) {
	t.Helper()
	p := ingest.New(ingest.Config{Tree: tr, Engine: board.NewEngine(), Logger: zerolog.Nop()})
	_, _, err := p.Add(context.Background(), ingest.Game{
		SourceID: "seed.pgn",
		Moves:    []string{"e4", "e5"},
		Result:   stats.Win,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	buf := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestFindPositionDefaultsToRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	seed(t, tr)

	var node NodeResponse
	if code := getJSON(t, ts.URL+"/api/position", &node); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if node.ID != string(tr.RootID()) {
		t.Errorf("id = %q, want root", node.ID)
	}
	if len(node.Moves) != 1 || node.Moves[0].SAN != "e4" {
		t.Fatalf("moves = %+v", node.Moves)
	}
	m := node.Moves[0]
	if m.Games != 1 || m.WinRate != 100 {
		t.Errorf("move stats = %+v", m)
	}
	if m.Color == "" || m.Thickness == 0 {
		t.Errorf("visual weight missing: %+v", m)
	}
}

func TestFindPositionByFEN(t *testing.T) {
	ts, tr := newTestServer(t)
	seed(t, tr)

	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 3 7"
	var node NodeResponse
	code := getJSON(t, ts.URL+"/api/position?fen="+url.QueryEscape(fen), &node)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	// Counters are dropped during normalization, so the odd halfmove
	// and fullmove numbers still resolve to the stored node.
	if node.Move != "e4" {
		t.Errorf("move = %q, want e4", node.Move)
	}

	if code := getJSON(t, ts.URL+"/api/position?fen=not-a-fen", nil); code != http.StatusBadRequest {
		t.Errorf("bad fen status = %d", code)
	}
	unknown := "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq d3 0 1"
	if code := getJSON(t, ts.URL+"/api/position?fen="+url.QueryEscape(unknown), nil); code != http.StatusNotFound {
		t.Errorf("unknown position status = %d", code)
	}
}

func TestInsertMove(t *testing.T) {
	ts, tr := newTestServer(t)
	seed(t, tr)

	e4, err := tr.ChildFor(tr.RootID(), "e4")
	if err != nil {
		t.Fatal(err)
	}
	e5, err := tr.ChildFor(e4.ID, "e5")
	if err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("%s/api/position/%s/moves", ts.URL, e5.ID)
	var node NodeResponse
	if code := postJSON(t, url, map[string]string{"san": "Nf3"}, &node); code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if node.Move != "Nf3" {
		t.Errorf("move = %q", node.Move)
	}
	if _, err := tr.ChildFor(e5.ID, "Nf3"); err != nil {
		t.Errorf("inserted move missing from tree: %v", err)
	}

	// Repeat insert is idempotent and reports 200.
	if code := postJSON(t, url, map[string]string{"san": "Nf3"}, nil); code != http.StatusOK {
		t.Errorf("repeat status = %d", code)
	}
	// Illegal move is rejected by the rules engine.
	if code := postJSON(t, url, map[string]string{"san": "Ke4"}, nil); code != http.StatusBadRequest {
		t.Errorf("illegal status = %d", code)
	}
	if code := postJSON(t, url, map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("missing san status = %d", code)
	}
}

func TestDeleteSubtree(t *testing.T) {
	ts, tr := newTestServer(t)
	seed(t, tr)

	e4, err := tr.ChildFor(tr.RootID(), "e4")
	if err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/position/%s", ts.URL, e4.ID), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["removed"] != 2 {
		t.Errorf("removed = %d, want 2", body["removed"])
	}
	if tr.Len() != 1 {
		t.Errorf("tree Len = %d, want 1", tr.Len())
	}
}

func TestTrainingFlow(t *testing.T) {
	ts, tr := newTestServer(t)
	seed(t, tr)

	var started map[string]string
	if code := postJSON(t, ts.URL+"/api/training/sessions", nil, &started); code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	sid := started["session_id"]
	if sid == "" {
		t.Fatal("no session id")
	}
	base := ts.URL + "/api/training/sessions/" + sid

	// Root has one unstudied owned move: e4.
	var unstudied struct {
		Moves []MoveResponse `json:"moves"`
	}
	if code := getJSON(t, base+"/unstudied", &unstudied); code != http.StatusOK {
		t.Fatalf("unstudied status = %d", code)
	}
	if len(unstudied.Moves) != 1 || unstudied.Moves[0].SAN != "e4" {
		t.Fatalf("unstudied = %+v", unstudied.Moves)
	}
	e4ID := unstudied.Moves[0].NodeID

	var learned map[string]bool
	if code := postJSON(t, base+"/learned", map[string]string{"node_id": e4ID}, &learned); code != http.StatusOK {
		t.Fatalf("learned status = %d", code)
	}
	if !learned["newly_learned"] {
		t.Error("first answer should be newly learned")
	}
	postJSON(t, base+"/learned", map[string]string{"node_id": e4ID}, &learned)
	if learned["newly_learned"] {
		t.Error("repeat answer should not be newly learned")
	}

	var mistakes map[string]int
	if code := postJSON(t, base+"/mistakes", nil, &mistakes); code != http.StatusOK {
		t.Fatalf("mistakes status = %d", code)
	}
	if mistakes["mistake_count"] != 1 {
		t.Errorf("mistake_count = %d", mistakes["mistake_count"])
	}

	var unlearned map[string]bool
	postJSON(t, base+"/unlearned", map[string]string{"node_id": e4ID}, &unlearned)
	if !unlearned["was_learned"] {
		t.Error("unlearn should report prior credit")
	}

	var progress map[string]any
	if code := getJSON(t, base+"/progress", &progress); code != http.StatusOK {
		t.Fatalf("progress status = %d", code)
	}
	if progress["all_studied"].(bool) {
		t.Error("nothing studied yet, all_studied must be false")
	}

	if code := postJSON(t, base+"/studied", map[string]string{"node_id": e4ID}, nil); code != http.StatusOK {
		t.Fatalf("studied status = %d", code)
	}
	if code := getJSON(t, base+"/progress", &progress); code != http.StatusOK {
		t.Fatalf("progress status = %d", code)
	}
	if progress["studied_nodes"].(float64) != 1 {
		t.Errorf("studied_nodes = %v", progress["studied_nodes"])
	}
	if progress["total_nodes"].(float64) != 2 {
		t.Errorf("total_nodes = %v", progress["total_nodes"])
	}
	if progress["mistake_count"].(float64) != 1 {
		t.Errorf("mistake_count = %v", progress["mistake_count"])
	}
	// A studied mark covers the whole line below it.
	if !progress["all_studied"].(bool) {
		t.Error("e4 studied should cover the repertoire")
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/position")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if rid := resp.Header.Get("X-Request-ID"); len(rid) != 8 {
		t.Errorf("generated id = %q", rid)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/position", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Request-ID", "abcd1234")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if rid := resp.Header.Get("X-Request-ID"); rid != "abcd1234" {
		t.Errorf("incoming id not honored: %q", rid)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	ts, _ := newTestServer(t)
	if code := getJSON(t, ts.URL+"/api/training/sessions/nope/progress", nil); code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
	if code := postJSON(t, ts.URL+"/api/training/sessions/nope/mistakes", nil, nil); code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
}
