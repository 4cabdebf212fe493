// Package risk maps detector output to a coarse risk category.
package risk

import (
	"fmt"
	"math"
	"strings"
)

// Level is a coarse risk category.
type Level string

const (
	None   Level = "none"
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Band lower bounds, inclusive.
const (
	HighThreshold   = 0.75
	MediumThreshold = 0.50
	LowThreshold    = 0.25
)

// Assessment is the result of classifying one detection set.
type Assessment struct {
	Level      Level   `json:"riskLevel"`
	Percentage float64 `json:"riskPercentage"` // max confidence scaled to 0-100
	Confidence float64 `json:"confidence"`     // max confidence in [0,1]
}

// Classify returns the assessment for the given per-detection confidences.
// An empty slice is risk none at 0%.
func Classify(confidences []float64) Assessment {
	if len(confidences) == 0 {
		return Assessment{Level: None}
	}

	top := confidences[0]
	for _, c := range confidences[1:] {
		if c > top {
			top = c
		}
	}
	top = math.Max(0, math.Min(1, top))

	return Assessment{
		Level:      ForConfidence(top),
		Percentage: math.Round(top*1000) / 10,
		Confidence: top,
	}
}

// ForConfidence maps a single confidence onto a band.
func ForConfidence(c float64) Level {
	switch {
	case c >= HighThreshold:
		return High
	case c >= MediumThreshold:
		return Medium
	case c >= LowThreshold:
		return Low
	default:
		return None
	}
}

// Color returns the hex colour used to render the level.
func (l Level) Color() string {
	switch l {
	case None:
		return "#10B981"
	case Low:
		return "#FBBF24"
	case Medium:
		return "#F97316"
	case High:
		return "#EF4444"
	default:
		return "#6B7280"
	}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case None, Low, Medium, High:
		return true
	}
	return false
}

// ParseLevel parses a stored or user-supplied level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}
