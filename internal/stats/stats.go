// Package stats aggregates per-edge game outcomes and derives the
// rates and visual weights consumed by renderers.
package stats

// Outcome is a game result from the repertoire owner's perspective.
type Outcome uint8

const (
	Unknown Outcome = iota
	Win
	Draw
	Loss
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Draw:
		return "draw"
	case Loss:
		return "loss"
	default:
		return "unknown"
	}
}

// Line holds the aggregated statistics for one move edge: every game
// whose move sequence passes through the edge contributes once.
//
// The rating differential carries its own count so that games without
// rating data leave the average untouched instead of dragging it
// toward zero.
type Line struct {
	Games           uint32
	Wins            uint32
	Draws           uint32
	Losses          uint32
	RatingDiffSum   int64
	RatingDiffCount uint32
}

// Record adds one game outcome. ratingDiff is owner minus opponent;
// pass hasDiff=false when either rating is unknown.
func (l *Line) Record(o Outcome, ratingDiff int, hasDiff bool) {
	l.Games++
	switch o {
	case Win:
		l.Wins++
	case Draw:
		l.Draws++
	case Loss:
		l.Losses++
	}
	if hasDiff {
		l.RatingDiffSum += int64(ratingDiff)
		l.RatingDiffCount++
	}
}

// Merge folds another line into this one.
func (l *Line) Merge(other Line) {
	l.Games += other.Games
	l.Wins += other.Wins
	l.Draws += other.Draws
	l.Losses += other.Losses
	l.RatingDiffSum += other.RatingDiffSum
	l.RatingDiffCount += other.RatingDiffCount
}

// Rates are win/draw/loss percentages. NoData is set when no games have
// been recorded; renderers must show "no data" rather than 0%.
type Rates struct {
	Win    float64
	Draw   float64
	Loss   float64
	NoData bool
}

// Rates computes the percentage breakdown of recorded games.
func (l Line) Rates() Rates {
	if l.Games == 0 {
		return Rates{NoData: true}
	}
	g := float64(l.Games)
	return Rates{
		Win:  float64(l.Wins) / g * 100,
		Draw: float64(l.Draws) / g * 100,
		Loss: float64(l.Losses) / g * 100,
	}
}

// AvgRatingDiff returns the mean rating differential and whether any
// rating data exists at all.
func (l Line) AvgRatingDiff() (float64, bool) {
	if l.RatingDiffCount == 0 {
		return 0, false
	}
	return float64(l.RatingDiffSum) / float64(l.RatingDiffCount), true
}
