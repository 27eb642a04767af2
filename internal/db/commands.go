package db

import (
	"context"
	"fmt"
	"time"
)

// ActuatorCommand is one line exchanged with the actuator.
type ActuatorCommand struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"`
	Message   string    `json:"message"`
	OK        bool      `json:"ok"`
	CreatedAt time.Time `json:"created_at"`
}

// LogCommand appends to the actuator command log. direction is "tx" for
// lines sent and "rx" for replies.
func (db *DB) LogCommand(ctx context.Context, direction, message string, ok bool) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO actuator_commands (direction, message, ok) VALUES (?, ?, ?)`,
		direction, message, ok,
	)
	if err != nil {
		return fmt.Errorf("failed to log actuator command: %w", err)
	}
	return nil
}

// ListCommands returns up to limit log entries, newest first.
func (db *DB) ListCommands(ctx context.Context, limit int) ([]ActuatorCommand, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT command_id, direction, message, ok, created_at
		FROM actuator_commands
		ORDER BY command_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ActuatorCommand{}
	for rows.Next() {
		var (
			c  ActuatorCommand
			ts float64
		)
		if err := rows.Scan(&c.ID, &c.Direction, &c.Message, &c.OK, &ts); err != nil {
			return nil, err
		}
		c.CreatedAt = unixFloat(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}
