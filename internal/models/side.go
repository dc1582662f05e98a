package models

import "strings"

// Side is the trade direction, "BUY"/"SELL" or empty when unknown.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes case and accepts long/short aliases.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return SideBuy, true
	case "SELL", "SHORT":
		return SideSell, true
	default:
		return SideNone, false
	}
}

// Opposite returns the closing side. SideNone stays SideNone.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }
