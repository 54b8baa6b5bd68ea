package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// SaveTask inserts or updates a task row. Satisfies the store's persister
// interface, so every status change is written through.
func (db *DB) SaveTask(t *models.Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on for %s: %w", t.ID, err)
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.Exec(`
		INSERT INTO tasks (id, description, status, depends_on, result, error_detail, owner_agent, seq, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error_detail = excluded.error_detail,
			owner_agent = excluded.owner_agent,
			completed_at = excluded.completed_at
	`, t.ID, t.Description, string(t.Status), string(deps), t.Result, t.ErrorDetail, t.OwnerAgent, t.Seq, formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTasks returns all persisted tasks in creation order. Dependencies come
// back before their dependents, so the rows can be restored in order.
func (db *DB) LoadTasks() ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, description, status, depends_on, result, error_detail, owner_agent, seq, created_at, completed_at
		FROM tasks ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var (
			t           models.Task
			status      string
			deps        sql.NullString
			result      sql.NullString
			errDetail   sql.NullString
			owner       sql.NullString
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Description, &status, &deps, &result, &errDetail, &owner, &t.Seq, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}

		t.Status = models.TaskStatus(status)
		t.Result = result.String
		t.ErrorDetail = errDetail.String
		t.OwnerAgent = owner.String
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &t.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshal depends_on for %s: %w", t.ID, err)
			}
		}
		if created, err := parseTime(createdAt); err == nil {
			t.CreatedAt = created
		}
		t.CompletedAt = parseNullableTime(completedAt)

		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// ClearTasks removes every task row. Used when a new run replaces a finished
// one.
func (db *DB) ClearTasks() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM tasks"); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	return nil
}
