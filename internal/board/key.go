// Package board provides the canonical position identity used by the
// repertoire tree, plus the adapter to the chess rules engine.
//
// A PositionKey is the first four FEN fields (piece placement, side to
// move, castling rights, en-passant target). The halfmove clock and
// fullmove number are dropped so that the same position reached through
// different move orders maps to the same key.
package board

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPosition is returned when a FEN does not describe a
// well-formed chess position.
var ErrInvalidPosition = errors.New("invalid position")

// PositionKey is the canonical, counter-free identity of a position.
type PositionKey string

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// StartingKey returns the key of the initial position.
func StartingKey() PositionKey {
	key, _ := Normalize(StartingFEN)
	return key
}

// Normalize validates a FEN string and returns its canonical key.
// Two FENs describing the same position (ignoring move counters)
// normalize to the same key; malformed input yields ErrInvalidPosition.
func Normalize(fen string) (PositionKey, error) {
	fields := strings.Fields(strings.TrimSpace(fen))
	if len(fields) < 4 {
		return "", fmt.Errorf("%w: expected at least 4 FEN fields, got %d", ErrInvalidPosition, len(fields))
	}
	placement, side, castling, enPassant := fields[0], fields[1], fields[2], fields[3]

	if err := validatePlacement(placement); err != nil {
		return "", err
	}
	if side != "w" && side != "b" {
		return "", fmt.Errorf("%w: side to move %q", ErrInvalidPosition, side)
	}
	if err := validateCastling(castling); err != nil {
		return "", err
	}
	if err := validateEnPassant(enPassant, side); err != nil {
		return "", err
	}

	return PositionKey(placement + " " + side + " " + castling + " " + enPassant), nil
}

// FEN expands a key back into a full FEN with zeroed counters, usable
// by the rules engine and renderers.
func (k PositionKey) FEN() string {
	return string(k) + " 0 1"
}

func validatePlacement(placement string) error {
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: %d ranks", ErrInvalidPosition, len(ranks))
	}

	var whiteKings, blackKings, whiteMen, blackMen, whitePawns, blackPawns int
	for i, rank := range ranks {
		squares := 0
		for _, c := range rank {
			if c >= '1' && c <= '8' {
				squares += int(c - '0')
				continue
			}
			switch c {
			case 'K':
				whiteKings++
				whiteMen++
			case 'k':
				blackKings++
				blackMen++
			case 'P':
				whitePawns++
				whiteMen++
				if i == 0 || i == 7 {
					return fmt.Errorf("%w: pawn on rank %d", ErrInvalidPosition, 8-i)
				}
			case 'p':
				blackPawns++
				blackMen++
				if i == 0 || i == 7 {
					return fmt.Errorf("%w: pawn on rank %d", ErrInvalidPosition, 8-i)
				}
			case 'Q', 'R', 'B', 'N':
				whiteMen++
			case 'q', 'r', 'b', 'n':
				blackMen++
			default:
				return fmt.Errorf("%w: piece %q", ErrInvalidPosition, string(c))
			}
			squares++
		}
		if squares != 8 {
			return fmt.Errorf("%w: rank %d has %d squares", ErrInvalidPosition, 8-i, squares)
		}
	}

	if whiteKings != 1 || blackKings != 1 {
		return fmt.Errorf("%w: %d white kings, %d black kings", ErrInvalidPosition, whiteKings, blackKings)
	}
	if whiteMen > 16 || blackMen > 16 {
		return fmt.Errorf("%w: %d white men, %d black men", ErrInvalidPosition, whiteMen, blackMen)
	}
	if whitePawns > 8 || blackPawns > 8 {
		return fmt.Errorf("%w: %d white pawns, %d black pawns", ErrInvalidPosition, whitePawns, blackPawns)
	}
	return nil
}

func validateCastling(castling string) error {
	if castling == "-" {
		return nil
	}
	if castling == "" || len(castling) > 4 {
		return fmt.Errorf("%w: castling %q", ErrInvalidPosition, castling)
	}
	seen := map[rune]bool{}
	for _, c := range castling {
		switch c {
		case 'K', 'Q', 'k', 'q':
			if seen[c] {
				return fmt.Errorf("%w: castling %q", ErrInvalidPosition, castling)
			}
			seen[c] = true
		default:
			return fmt.Errorf("%w: castling %q", ErrInvalidPosition, castling)
		}
	}
	return nil
}

func validateEnPassant(ep, side string) error {
	if ep == "-" {
		return nil
	}
	if len(ep) != 2 || ep[0] < 'a' || ep[0] > 'h' {
		return fmt.Errorf("%w: en passant %q", ErrInvalidPosition, ep)
	}
	// The target rank is fixed by the side to move.
	if side == "w" && ep[1] != '6' {
		return fmt.Errorf("%w: en passant %q with white to move", ErrInvalidPosition, ep)
	}
	if side == "b" && ep[1] != '3' {
		return fmt.Errorf("%w: en passant %q with black to move", ErrInvalidPosition, ep)
	}
	return nil
}
