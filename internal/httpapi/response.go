package httpapi

import (
	"github.com/openingbook/repertoire/internal/stats"
	"github.com/openingbook/repertoire/internal/tree"
)

// NodeResponse is the JSON shape of one position node.
type NodeResponse struct {
	ID       string         `json:"id"`
	FEN      string         `json:"fen"`
	ParentID string         `json:"parent_id,omitempty"`
	Move     string         `json:"move,omitempty"`
	Games    uint32         `json:"games"`
	Wins     uint32         `json:"wins"`
	Draws    uint32         `json:"draws"`
	Losses   uint32         `json:"losses"`
	NoData   bool           `json:"no_data,omitempty"`
	WinRate  float64        `json:"win_rate"`
	DrawRate float64        `json:"draw_rate"`
	LossRate float64        `json:"loss_rate"`
	Moves    []MoveResponse `json:"moves,omitempty"`
}

// MoveResponse carries everything a renderer needs for one move edge;
// it performs no statistics computation of its own.
type MoveResponse struct {
	SAN           string   `json:"san"`
	NodeID        string   `json:"node_id"`
	FEN           string   `json:"fen"`
	Games         uint32   `json:"games"`
	Wins          uint32   `json:"wins"`
	Draws         uint32   `json:"draws"`
	Losses        uint32   `json:"losses"`
	NoData        bool     `json:"no_data,omitempty"`
	WinRate       float64  `json:"win_rate"`
	DrawRate      float64  `json:"draw_rate"`
	LossRate      float64  `json:"loss_rate"`
	AvgRatingDiff *float64 `json:"avg_rating_diff,omitempty"`
	Color         string   `json:"color"`
	Opacity       float64  `json:"opacity"`
	Thickness     float64  `json:"thickness"`
}

func toMoveResponse(e tree.Edge) MoveResponse {
	line := e.Node.Line
	r := line.Rates()
	v := stats.Weight(line)
	mr := MoveResponse{
		SAN:       e.SAN,
		NodeID:    string(e.Node.ID),
		FEN:       e.Node.Key.FEN(),
		Games:     line.Games,
		Wins:      line.Wins,
		Draws:     line.Draws,
		Losses:    line.Losses,
		NoData:    r.NoData,
		WinRate:   r.Win,
		DrawRate:  r.Draw,
		LossRate:  r.Loss,
		Color:     v.Color,
		Opacity:   v.Opacity,
		Thickness: v.Thickness,
	}
	if avg, ok := line.AvgRatingDiff(); ok {
		mr.AvgRatingDiff = &avg
	}
	return mr
}

func toNodeResponse(n tree.Node, edges []tree.Edge) NodeResponse {
	r := n.Line.Rates()
	resp := NodeResponse{
		ID:       string(n.ID),
		FEN:      n.Key.FEN(),
		ParentID: string(n.Parent),
		Move:     n.Move,
		Games:    n.Line.Games,
		Wins:     n.Line.Wins,
		Draws:    n.Line.Draws,
		Losses:   n.Line.Losses,
		NoData:   r.NoData,
		WinRate:  r.Win,
		DrawRate: r.Draw,
		LossRate: r.Loss,
	}
	for _, e := range edges {
		resp.Moves = append(resp.Moves, toMoveResponse(e))
	}
	return resp
}
