package capability

import (
	"sort"
	"strings"

	"github.com/arbor-run/trust-core/internal/domain"
)

// bundlePrefixes maps each bundle to the URI prefixes that belong to it
// (spec §4.6.3). It is unordered; sortedPrefixes below orders the prefixes
// longest-first so MatchBundle's first hit is always the most specific one.
var bundlePrefixes = map[domain.Bundle][]string{
	domain.BundleCodebaseRead: {
		"arbor://code/read/",
		"arbor://roadmap/read/",
		"arbor://git/read/",
		"arbor://activity/emit/",
	},
	domain.BundleCodebaseWrite: {
		"arbor://code/write/",
		"arbor://code/compile/",
		"arbor://code/reload/",
		"arbor://test/write/",
		"arbor://docs/write/",
		"arbor://roadmap/write/",
		"arbor://roadmap/move/",
	},
	domain.BundleShell: {
		"arbor://shell/exec",
	},
	domain.BundleNetwork: {
		"arbor://network/request/",
		"arbor://signals/subscribe/",
	},
	domain.BundleAIGenerate: {
		"arbor://ai/request/",
		"arbor://extension/request/",
	},
	domain.BundleSystemConfig: {
		"arbor://config/write/",
		"arbor://install/execute/",
	},
	domain.BundleGovernance: {
		"arbor://capability/request/",
		"arbor://capability/delegate/",
		"arbor://governance/change/",
		"arbor://consensus/propose/",
	},
}

// sortedPrefixes is bundlePrefixes flattened to (prefix, bundle) pairs sorted
// by prefix length descending, so MatchBundle performs one longest-prefix
// pass instead of re-deriving the order on every call.
var sortedPrefixes = buildSortedPrefixes()

type prefixBundle struct {
	prefix string
	bundle domain.Bundle
}

func buildSortedPrefixes() []prefixBundle {
	var out []prefixBundle
	for bundle, prefixes := range bundlePrefixes {
		for _, p := range prefixes {
			out = append(out, prefixBundle{prefix: p, bundle: bundle})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return len(out[i].prefix) > len(out[j].prefix)
	})
	return out
}

// MatchBundle maps a resource URI to its bundle by longest-prefix match
// against the closed table (spec §4.6.3). The second return is false if the
// URI belongs to no bundle.
func MatchBundle(uri string) (domain.Bundle, bool) {
	for _, pb := range sortedPrefixes {
		if strings.HasPrefix(uri, pb.prefix) {
			return pb.bundle, true
		}
	}
	return "", false
}

// defaultMatrix is the declarative bundle x policy-tier -> mode table (spec
// §4.6.3 defaults, in order restricted/standard/elevated/autonomous).
// Overridable by configuration at construction time (see NewMatrix's
// overrides and Policy's WithMatrix).
var defaultMatrix = map[domain.Bundle][4]domain.ConfirmationMode{
	domain.BundleCodebaseRead:  {domain.ModeAuto, domain.ModeAuto, domain.ModeAuto, domain.ModeAuto},
	domain.BundleCodebaseWrite: {domain.ModeDeny, domain.ModeGated, domain.ModeAuto, domain.ModeAuto},
	domain.BundleShell:         {domain.ModeDeny, domain.ModeGated, domain.ModeGated, domain.ModeGated},
	domain.BundleNetwork:       {domain.ModeDeny, domain.ModeGated, domain.ModeAuto, domain.ModeAuto},
	domain.BundleAIGenerate:    {domain.ModeGated, domain.ModeAuto, domain.ModeAuto, domain.ModeAuto},
	domain.BundleSystemConfig:  {domain.ModeDeny, domain.ModeDeny, domain.ModeGated, domain.ModeAuto},
	domain.BundleGovernance:    {domain.ModeDeny, domain.ModeDeny, domain.ModeGated, domain.ModeGated},
}

// policyTierIndex orders policy tiers restricted..autonomous to index into
// the [4]ConfirmationMode rows above.
var policyTierIndex = map[domain.PolicyTier]int{
	domain.PolicyTierRestricted: 0,
	domain.PolicyTierStandard:   1,
	domain.PolicyTierElevated:   2,
	domain.PolicyTierAutonomous: 3,
}

// Matrix is the declarative confirmation matrix, independently overridable
// per bundle (spec §4.6.3: "overridable by configuration").
type Matrix struct {
	rows map[domain.Bundle][4]domain.ConfirmationMode
}

// NewMatrix builds the default matrix. overrides, if non-nil, replaces rows
// wholesale for the named bundles; unknown bundles in overrides are ignored.
func NewMatrix(overrides map[domain.Bundle][4]domain.ConfirmationMode) *Matrix {
	rows := make(map[domain.Bundle][4]domain.ConfirmationMode, len(defaultMatrix))
	for b, row := range defaultMatrix {
		rows[b] = row
	}
	for b, row := range overrides {
		if _, known := rows[b]; known {
			rows[b] = row
		}
	}
	return &Matrix{rows: rows}
}

// Lookup returns the matrix verdict for a bundle at a policy tier. Unknown
// bundle or unknown tier denies (spec §4.6.3).
func (m *Matrix) Lookup(bundle domain.Bundle, policyTier domain.PolicyTier) domain.ConfirmationMode {
	row, ok := m.rows[bundle]
	if !ok {
		return domain.ModeDeny
	}
	idx, ok := policyTierIndex[policyTier]
	if !ok {
		return domain.ModeDeny
	}
	return row[idx]
}
