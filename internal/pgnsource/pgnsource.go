// Package pgnsource reads PGN files (optionally zstd-compressed) and
// produces parsed games for the ingestion pipeline. Each game gets a
// source id derived from its file name: bare for single-game files,
// "#n"-suffixed when the file holds several games.
package pgnsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/openingbook/repertoire/internal/ingest"
	"github.com/openingbook/repertoire/internal/stats"
)

// Color is the side the repertoire owner plays in the parsed games.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// ParseColor validates a color string.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w", "":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return "", fmt.Errorf("invalid color %q", s)
}

// Source reads games for one repertoire owner from a directory. When a
// player name is set, each game's owner color is resolved from its
// White/Black tags; games without a matching tag fall back to the
// configured color.
type Source struct {
	dir    string
	owner  Color
	player string
	log    zerolog.Logger
}

// New creates a source over dir. player may be empty, in which case
// every game counts for the configured color.
func New(dir string, owner Color, player string, log zerolog.Logger) *Source {
	return &Source{dir: dir, owner: owner, player: player, log: log}
}

// Games parses every PGN file in the directory, sorted by name.
// Unreadable files are logged and skipped; a bad file never blocks the
// batch.
func (s *Source) Games(ctx context.Context) ([]ingest.Game, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsPGNFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var games []ingest.Game
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return games, err
		}
		fileGames, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable PGN file")
			continue
		}
		games = append(games, fileGames...)
	}
	return games, nil
}

func (s *Source) readFile(path string) ([]ingest.Game, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	return Parse(r, filepath.Base(path), s.owner, s.player)
}

// IsPGNFile reports whether name looks like a PGN file, plain or
// zstd-compressed.
func IsPGNFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".pgn" {
		return true
	}
	if ext == ".zst" {
		return filepath.Ext(name[:len(name)-4]) == ".pgn"
	}
	return false
}

var (
	tagRegex        = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]\s*$`)
	moveNumberRegex = regexp.MustCompile(`\d+\.+`)
	nagRegex        = regexp.MustCompile(`\$\d+`)
)

// Parse reads one or more games from PGN text. When a file holds more
// than one game, every game gets "#n" suffixed to the source id; no
// game's id may double as the shared file name, or deleting one
// superseded game would take the others' backing file with it.
func Parse(r io.Reader, sourceID string, owner Color, player string) ([]ingest.Game, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var games []ingest.Game
	tags := map[string]string{}
	var movetext strings.Builder
	inMoves := false

	flush := func() {
		if len(tags) == 0 && movetext.Len() == 0 {
			return
		}
		g := buildGame(sourceID, tags, movetext.String(), ownerFor(tags, player, owner))
		games = append(games, g)
		tags = map[string]string{}
		movetext.Reset()
		inMoves = false
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			if inMoves {
				flush()
			}
		case strings.HasPrefix(line, "["):
			if inMoves {
				// New game started without a separating blank line.
				flush()
			}
			if m := tagRegex.FindStringSubmatch(line); m != nil {
				tags[m[1]] = m[2]
			}
		case strings.HasPrefix(line, ";"):
			// Line comment.
		default:
			inMoves = true
			movetext.WriteString(line)
			movetext.WriteString(" ")
		}
	}
	if err := scanner.Err(); err != nil {
		return games, err
	}
	flush()
	if len(games) > 1 {
		for i := range games {
			games[i].SourceID = fmt.Sprintf("%s#%d", sourceID, i+1)
		}
	}
	return games, nil
}

// ownerFor resolves which side the repertoire owner played in one
// game. With a player name configured, the White/Black tags decide per
// game; without one, or when neither tag matches, the configured color
// stands.
func ownerFor(tags map[string]string, player string, fallback Color) Color {
	if player == "" {
		return fallback
	}
	variants := nameVariants(player)
	if nameMatches(variants, tags["White"]) {
		return White
	}
	if nameMatches(variants, tags["Black"]) {
		return Black
	}
	return fallback
}

// nameVariants expands a player name into the spellings seen in PGN
// tags: underscore/space swapped, and first/last name order flipped
// for two-part names.
func nameVariants(name string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	variants := []string{name}
	switch {
	case strings.Contains(name, "_"):
		variants = append(variants, strings.ReplaceAll(name, "_", " "))
		if parts := strings.Split(name, "_"); len(parts) == 2 {
			variants = append(variants, parts[1]+" "+parts[0])
		}
	case strings.Contains(name, " "):
		variants = append(variants, strings.ReplaceAll(name, " ", "_"))
		if parts := strings.Split(name, " "); len(parts) == 2 {
			variants = append(variants, parts[1]+" "+parts[0], parts[1]+"_"+parts[0])
		}
	}
	return variants
}

func nameMatches(variants []string, tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return false
	}
	for _, v := range variants {
		if strings.Contains(tag, v) || strings.Contains(v, tag) {
			return true
		}
	}
	return false
}

func buildGame(sourceID string, tags map[string]string, movetext string, owner Color) ingest.Game {
	whiteElo := parseRating(tags["WhiteElo"])
	blackElo := parseRating(tags["BlackElo"])

	g := ingest.Game{
		SourceID: sourceID,
		Moves:    CleanMovetext(movetext),
		Result:   resultFor(tags["Result"], owner),
	}
	if whiteElo > 0 && blackElo > 0 {
		g.HasRatings = true
		if owner == White {
			g.OwnerElo, g.OpponentElo = whiteElo, blackElo
		} else {
			g.OwnerElo, g.OpponentElo = blackElo, whiteElo
		}
	}
	return g
}

// CleanMovetext strips comments, variations, NAGs, move numbers, and
// result tokens, leaving bare SAN tokens.
func CleanMovetext(movetext string) []string {
	movetext = stripBraces(movetext)
	movetext = stripParens(movetext)
	movetext = nagRegex.ReplaceAllString(movetext, " ")
	movetext = moveNumberRegex.ReplaceAllString(movetext, " ")

	var moves []string
	for _, tok := range strings.Fields(movetext) {
		switch tok {
		case "1-0", "0-1", "1/2-1/2", "*":
			continue
		}
		moves = append(moves, tok)
	}
	return moves
}

func stripBraces(s string) string {
	var b strings.Builder
	depth := 0
	for _, c := range s {
		switch c {
		case '{':
			depth++
			b.WriteRune(' ')
		case '}':
			if depth > 0 {
				depth--
			}
			b.WriteRune(' ')
		default:
			if depth == 0 {
				b.WriteRune(c)
			}
		}
	}
	return b.String()
}

// stripParens removes recursive annotation variations. Only the
// mainline goes into the tree.
func stripParens(s string) string {
	var b strings.Builder
	depth := 0
	for _, c := range s {
		switch c {
		case '(':
			depth++
			b.WriteRune(' ')
		case ')':
			if depth > 0 {
				depth--
			}
			b.WriteRune(' ')
		default:
			if depth == 0 {
				b.WriteRune(c)
			}
		}
	}
	return b.String()
}

func resultFor(result string, owner Color) stats.Outcome {
	switch result {
	case "1-0":
		if owner == White {
			return stats.Win
		}
		return stats.Loss
	case "0-1":
		if owner == Black {
			return stats.Win
		}
		return stats.Loss
	case "1/2-1/2", "½-½":
		return stats.Draw
	}
	return stats.Unknown
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
