package stackwatch

import (
	"fmt"
	"time"

	"github.com/stackhand/console/pkg/models"
)

// DefaultTerminalStatuses is the stack status set from which no further
// automatic transition occurs. The set is configurable per poll session
// because the vocabulary is service-defined, not fixed by this package.
func DefaultTerminalStatuses() map[models.StackStatus]struct{} {
	return map[models.StackStatus]struct{}{
		models.StackCreateComplete:         {},
		models.StackCreateFailed:           {},
		models.StackUpdateComplete:         {},
		models.StackUpdateFailed:           {},
		models.StackDeleteComplete:         {},
		models.StackDeleteFailed:           {},
		models.StackRollbackComplete:       {},
		models.StackRollbackFailed:         {},
		models.StackUpdateRollbackComplete: {},
		models.StackUpdateRollbackFailed:   {},
	}
}

// buildSnapshot turns one status payload into a complete snapshot,
// carrying over resource transition times from the previous snapshot
// when a resource's raw status has not changed. Duplicate logical IDs
// in the payload keep their first occurrence; discovery order is
// preserved.
func buildSnapshot(payload *models.StackStatusPayload, prev *models.StackSnapshot, now time.Time) models.StackSnapshot {
	snap := models.StackSnapshot{
		StackID:       payload.StackID,
		StackName:     payload.StackName,
		Status:        models.StackStatus(payload.Status),
		Outputs:       payload.Outputs,
		CreatedAt:     payload.CreatedAt,
		LastUpdatedAt: payload.LastUpdated,
	}
	if snap.LastUpdatedAt.IsZero() {
		snap.LastUpdatedAt = now
	}

	seen := make(map[string]struct{}, len(payload.Resources))
	for _, r := range payload.Resources {
		if _, dup := seen[r.LogicalID]; dup {
			continue
		}
		seen[r.LogicalID] = struct{}{}

		res := models.ResourceStatus{
			LogicalID:        r.LogicalID,
			PhysicalID:       r.PhysicalID,
			Type:             r.Type,
			Status:           models.ResourceStateFromStatus(r.Status),
			RawStatus:        r.Status,
			LastTransitionAt: now,
		}
		if prev != nil {
			if old, ok := prev.Resource(r.LogicalID); ok && old.RawStatus == r.Status {
				res.LastTransitionAt = old.LastTransitionAt
			}
		}
		snap.Resources = append(snap.Resources, res)
	}

	for _, e := range payload.Events {
		snap.Events = append(snap.Events, models.StackEvent{
			ID:           eventID(e),
			Timestamp:    e.Timestamp,
			LogicalID:    e.LogicalID,
			ResourceType: e.ResourceType,
			Status:       e.Status,
			Reason:       e.Reason,
		})
	}

	snap.ProgressPercent = progress(&snap, prev)
	return snap
}

// eventID derives a stable identifier so the same remote event keeps
// the same id across ticks.
func eventID(e models.StackEventPayload) string {
	return fmt.Sprintf("%d/%s/%s", e.Timestamp.UnixNano(), e.LogicalID, e.Status)
}

// progress computes progressPercent for a snapshot.
//
// Heuristic (the status service does not report a percentage):
//   - terminal stack status → 100
//   - resources known → settled resources (complete, failed or rolled
//     back) over the total, scaled to 5–99 so a live deployment never
//     shows 0 or a premature 100
//   - no resources yet → 5 while anything is in progress
//
// The result is clamped to never decrease against the previous
// snapshot: rollbacks change resource states but reported progress
// stays monotonic for one poll session.
func progress(snap *models.StackSnapshot, prev *models.StackSnapshot) int {
	pct := 0
	if total := len(snap.Resources); total > 0 {
		settled := 0
		for _, r := range snap.Resources {
			switch r.Status {
			case models.ResourceComplete, models.ResourceFailed, models.ResourceRolledBack:
				settled++
			}
		}
		pct = settled * 100 / total
		if pct < 5 {
			pct = 5
		}
		if pct > 99 {
			pct = 99
		}
	} else if snap.Status != "" {
		pct = 5
	}

	if prev != nil && prev.ProgressPercent > pct {
		pct = prev.ProgressPercent
	}
	return pct
}

// finalizeProgress pins a terminal snapshot to 100.
func finalizeProgress(snap *models.StackSnapshot) {
	snap.ProgressPercent = 100
}
