// Package badge maps numeric evaluation scores to a display badge.
package badge

import (
	"math"
	"strings"
)

// Tones used by the UI.
const (
	ToneGreen  = "green"
	ToneBlue   = "blue"
	ToneYellow = "yellow"
	ToneRed    = "red"
	ToneGray   = "gray"
)

// Labels, lower bounds inclusive.
const (
	LabelExcellent    = "Sehr gut"
	LabelGood         = "Gut"
	LabelSufficient   = "Genügend"
	LabelInsufficient = "Ungenügend"
	LabelOpen         = "Offen"
)

// Badge is a qualitative label paired with a display tone.
type Badge struct {
	Label string `json:"label"`
	Tone  string `json:"tone"`
}

type tier struct {
	min   float64
	badge Badge
}

// tiers are evaluated top-down; the first match wins.
var tiers = []tier{
	{80, Badge{LabelExcellent, ToneGreen}},
	{60, Badge{LabelGood, ToneBlue}},
	{40, Badge{LabelSufficient, ToneYellow}},
}

var lowest = Badge{LabelInsufficient, ToneRed}

// Classify maps a score to its badge. A missing or NaN score falls into the
// lowest tier.
func Classify(score *float64) Badge {
	if score == nil || math.IsNaN(*score) {
		return lowest
	}
	for _, t := range tiers {
		if *score >= t.min {
			return t.badge
		}
	}
	return lowest
}

// Resolve returns the badge to store for a new evaluation. Each non-blank
// explicit value overrides the classified one on its own.
func Resolve(score *float64, label, tone string) Badge {
	b := Classify(score)
	if l := strings.TrimSpace(label); l != "" {
		b.Label = l
	}
	if t := strings.TrimSpace(tone); t != "" {
		b.Tone = t
	}
	return b
}

// ForScore derives a badge at read time. Finite scores are classified;
// otherwise the stored fallback is used, defaulting to "Offen" in gray.
func ForScore(score *float64, fallbackLabel, fallbackTone string) Badge {
	if score != nil && !math.IsNaN(*score) && !math.IsInf(*score, 0) {
		return Classify(score)
	}
	b := Badge{Label: fallbackLabel, Tone: fallbackTone}
	if b.Label == "" {
		b.Label = LabelOpen
	}
	if b.Tone == "" {
		b.Tone = ToneGray
	}
	return b
}
