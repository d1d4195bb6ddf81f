package trustmanager

import "github.com/arbor-run/trust-core/internal/domain"

// PointsTable is the event→delta mapping spec §6's configuration surface
// names as points_earned/points_lost: one signed integer per event type,
// applied to an agent's trust_points every time that event type reaches
// ProcessEvent. Unlisted event types move no points.
type PointsTable map[domain.EventType]int

// DefaultPointsTable matches spec scenario S2 exactly for proposal_approved
// (+5); the remaining entries are this project's conservative defaults for
// the other council-adjudicated and outcome events the configuration surface
// is meant to cover, chosen to mirror scoring.DefaultWeights' relative
// weighting of success vs. failure signals.
func DefaultPointsTable() PointsTable {
	return PointsTable{
		domain.EventProposalApproved:     5,
		domain.EventProposalRejected:     -3,
		domain.EventTestPassed:           1,
		domain.EventTestFailed:           -2,
		domain.EventActionSuccess:        1,
		domain.EventActionFailure:        -1,
		domain.EventImprovementApplied:   2,
		domain.EventInstallationSuccess:  2,
		domain.EventRollbackExecuted:     -3,
		domain.EventInstallationRollback: -3,
		domain.EventSecurityViolation:    -10,
	}
}

// Delta returns the configured point movement for an event type, 0 if the
// type carries none.
func (t PointsTable) Delta(eventType domain.EventType) int {
	return t[eventType]
}
