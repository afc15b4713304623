package stats

// Color palette for move quality buckets.
const (
	ColorExcellent = "#4caf50" // win rate >= 65
	ColorGood      = "#8bc34a" // 55-64
	ColorAverage   = "#ffeb3b" // 45-54
	ColorBelowAvg  = "#ff9800" // 35-44
	ColorPoor      = "#f44336" // < 35
	ColorNoData    = "#9e9e9e"
)

const (
	minOpacity = 0.35
	maxOpacity = 1.0

	minThickness = 4.0
	maxThickness = 12.0

	// Edges with this many games or more render at full confidence.
	saturationGames = 20
)

// Visual is the rendering weight of one move edge. It is the single
// source of truth for move presentation; renderers perform no
// statistics computation of their own.
type Visual struct {
	Color     string
	Opacity   float64
	Thickness float64
}

// Weight maps a line's statistics to its visual weight. It is a pure
// function of the line, so identical stats always render identically.
func Weight(l Line) Visual {
	r := l.Rates()
	if r.NoData {
		return Visual{Color: ColorNoData, Opacity: minOpacity, Thickness: minThickness}
	}
	confidence := float64(l.Games) / saturationGames
	if confidence > 1 {
		confidence = 1
	}
	return Visual{
		Color:     bucketColor(r.Win),
		Opacity:   minOpacity + (maxOpacity-minOpacity)*confidence,
		Thickness: minThickness + (maxThickness-minThickness)*confidence,
	}
}

func bucketColor(winRate float64) string {
	switch {
	case winRate >= 65:
		return ColorExcellent
	case winRate >= 55:
		return ColorGood
	case winRate >= 45:
		return ColorAverage
	case winRate >= 35:
		return ColorBelowAvg
	default:
		return ColorPoor
	}
}
