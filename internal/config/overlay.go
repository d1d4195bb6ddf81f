package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arbor-run/trust-core/internal/domain"
)

// Overlay is the optional declarative file spec §6 describes for operators
// who want to retune the score weights, trust-points deltas, tier
// thresholds, and confirmation matrix without a rebuild. Any field left
// unset in the YAML keeps its compiled-in default; Overlay only ever
// narrows what a caller must override.
type Overlay struct {
	ScoreWeights       *OverlayScoreWeights       `yaml:"score_weights"`
	PointsEarned       map[string]int             `yaml:"points_earned"`
	PointsLost         map[string]int             `yaml:"points_lost"`
	TierThresholds     map[domain.Tier]int        `yaml:"tier_thresholds"`
	PointsThresholds   map[domain.Tier]int        `yaml:"points_thresholds"`
	ConfirmationMatrix map[domain.Bundle][4]string `yaml:"confirmation_matrix"`
}

// OverlayScoreWeights mirrors scoring.Weights with YAML tags; spec §4.2's
// five components by name.
type OverlayScoreWeights struct {
	SuccessRate float64 `yaml:"success_rate"`
	Uptime      float64 `yaml:"uptime"`
	Security    float64 `yaml:"security"`
	TestPass    float64 `yaml:"test_pass"`
	Rollback    float64 `yaml:"rollback"`
}

// LoadOverlay reads and parses a YAML overlay file. A missing path is not an
// error at the call site — callers check OverlayPath == "" first — but a
// path that doesn't exist or doesn't parse is.
func LoadOverlay(path string) (*Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config overlay %q: %w", path, err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse config overlay %q: %w", path, err)
	}
	return &overlay, nil
}

// PointsTable merges the overlay's points_earned/points_lost maps onto a base
// event->delta table (spec §6). points_lost entries are stored as positive
// magnitudes in YAML and applied as negative deltas, matching
// trustmanager.PointsTable's signed-delta convention.
func (o *Overlay) PointsTable(base map[domain.EventType]int) map[domain.EventType]int {
	merged := make(map[domain.EventType]int, len(base))
	for k, v := range base {
		merged[k] = v
	}
	if o == nil {
		return merged
	}
	for k, v := range o.PointsEarned {
		if et, ok := domain.ParseEventType(k); ok {
			merged[et] = v
		}
	}
	for k, v := range o.PointsLost {
		if et, ok := domain.ParseEventType(k); ok {
			merged[et] = -v
		}
	}
	return merged
}

// ConfirmationMatrixOverrides converts the overlay's string-mode rows into
// the domain.ConfirmationMode rows capability.NewMatrix expects, skipping
// rows with an unrecognized mode.
func (o *Overlay) ConfirmationMatrixOverrides() map[domain.Bundle][4]domain.ConfirmationMode {
	out := make(map[domain.Bundle][4]domain.ConfirmationMode)
	if o == nil {
		return out
	}
	for bundle, row := range o.ConfirmationMatrix {
		var modes [4]domain.ConfirmationMode
		ok := true
		for i, m := range row {
			mode := domain.ConfirmationMode(m)
			if mode != domain.ModeAuto && mode != domain.ModeGated && mode != domain.ModeDeny {
				ok = false
				break
			}
			modes[i] = mode
		}
		if ok {
			out[bundle] = modes
		}
	}
	return out
}
