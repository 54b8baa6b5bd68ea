package state

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// SaveAgent inserts or updates an agent roster row.
func (db *DB) SaveAgent(a *models.AgentInstance) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO agents (id, role, state, task_id, spawned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			task_id = excluded.task_id
	`, a.ID, string(a.Role), string(a.State), a.TaskID, formatTime(a.SpawnedAt))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// LoadAgents returns the persisted agent roster.
func (db *DB) LoadAgents() ([]*models.AgentInstance, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, role, state, task_id, spawned_at FROM agents ORDER BY spawned_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.AgentInstance
	for rows.Next() {
		var (
			a         models.AgentInstance
			role      string
			agState   string
			taskID    sql.NullString
			spawnedAt string
		)
		if err := rows.Scan(&a.ID, &role, &agState, &taskID, &spawnedAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		a.Role = models.AgentRole(role)
		a.State = models.AgentState(agState)
		a.TaskID = taskID.String
		if spawned, err := parseTime(spawnedAt); err == nil {
			a.SpawnedAt = spawned
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// ClearAgents removes every agent roster row.
func (db *DB) ClearAgents() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM agents"); err != nil {
		return fmt.Errorf("clear agents: %w", err)
	}
	return nil
}
