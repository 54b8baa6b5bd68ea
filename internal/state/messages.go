package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ReplaceInbox replaces the persisted undelivered messages for one recipient.
// Called at checkpoint time with the router's pending queue; consumed
// messages are never written, so a resumed run cannot redeliver them.
func (db *DB) ReplaceInbox(recipient string, msgs []*models.Message) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM messages WHERE recipient = ?", recipient); err != nil {
			return fmt.Errorf("clear inbox for %s: %w", recipient, err)
		}
		for _, msg := range msgs {
			payload, err := json.Marshal(msg.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload for %s seq %d: %w", recipient, msg.Seq, err)
			}
			_, err = tx.Exec(`
				INSERT INTO messages (recipient, seq, sender, kind, correlation_id, payload, sent_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, recipient, msg.Seq, msg.From, string(msg.Kind), msg.CorrelationID, string(payload), formatTime(msg.SentAt))
			if err != nil {
				return fmt.Errorf("save message for %s seq %d: %w", recipient, msg.Seq, err)
			}
		}
		return nil
	})
}

// ClearMessages removes every checkpointed message. Used when a new run
// replaces a finished one.
func (db *DB) ClearMessages() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// LoadInbox returns the persisted undelivered messages for one recipient,
// oldest first.
func (db *DB) LoadInbox(recipient string) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT seq, sender, kind, correlation_id, payload, sent_at
		FROM messages WHERE recipient = ? ORDER BY seq
	`, recipient)
	if err != nil {
		return nil, fmt.Errorf("load inbox for %s: %w", recipient, err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			msg     models.Message
			kind    string
			corrID  sql.NullString
			payload sql.NullString
			sentAt  string
		)
		if err := rows.Scan(&msg.Seq, &msg.From, &kind, &corrID, &payload, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.To = recipient
		msg.Kind = models.MessageKind(kind)
		msg.CorrelationID = corrID.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &msg.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for %s seq %d: %w", recipient, msg.Seq, err)
			}
		}
		if sent, err := parseTime(sentAt); err == nil {
			msg.SentAt = sent
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
