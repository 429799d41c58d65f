package store

import "fmt"

// ResetRunningFeatures resets every Feature and Subtask left in the
// "running" state back to "pending" so an unclean shutdown does not
// leave work permanently stuck. It should be called once on startup
// before any new work is scheduled.
func (db *DB) ResetRunningFeatures(projectID string) (int64, error) {
	var reset int64

	result, execErr := db.Exec(`
		UPDATE subtasks SET status = 'pending'
		WHERE status = 'running' AND feature_id IN (
			SELECT id FROM features WHERE project_id = ?
		)
	`, projectID)
	if execErr != nil {
		return 0, fmt.Errorf("store: reset running subtasks: %w", execErr)
	}
	n, _ := result.RowsAffected()
	reset += n

	result, execErr = db.Exec(`
		UPDATE features SET status = 'pending' WHERE status = 'running' AND project_id = ?
	`, projectID)
	if execErr != nil {
		return reset, fmt.Errorf("store: reset running features: %w", execErr)
	}
	n, _ = result.RowsAffected()
	reset += n

	return reset, nil
}
