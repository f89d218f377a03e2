package leave

import "context"

// =============================================================================
// OVERLAP DETECTOR
// =============================================================================

// FindConflicts returns the employee's active requests overlapping
// [start, end], ascending by id. excludeID lets a modification ignore the
// request being edited. It has no side effects.
func FindConflicts(ctx context.Context, tx Tx, employeeID string, start, end Date, excludeID string) ([]LeaveRequest, error) {
	candidate := DateRange{Start: start, End: end}

	found, err := tx.FindActiveOverlapping(ctx, employeeID, candidate, excludeID)
	if err != nil {
		return nil, err
	}

	// Enforce the contract regardless of how the store filtered.
	conflicts := make([]LeaveRequest, 0, len(found))
	for _, r := range found {
		if r.ID == excludeID || !r.Status.IsActive() || r.EmployeeID != employeeID {
			continue
		}
		if candidate.Overlaps(r.Range()) {
			conflicts = append(conflicts, r)
		}
	}
	return conflicts, nil
}

// checkOverlap turns a non-empty conflict list into *OverlapConflictError.
func checkOverlap(ctx context.Context, tx Tx, employeeID string, start, end Date, excludeID string) error {
	conflicts, err := FindConflicts(ctx, tx, employeeID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	return &OverlapConflictError{Conflict: conflicts[0], Conflicts: conflicts}
}
