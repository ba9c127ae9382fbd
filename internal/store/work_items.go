package store

import (
	"database/sql"
	"fmt"
	"time"

	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// WorkItems caches remotely owned work assignments. The engine never
// edits an item; a refresh replaces the user's whole set in one
// transaction.
type WorkItems struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWorkItems(db *sql.DB, logger *zap.Logger) *WorkItems {
	return &WorkItems{db: db, logger: logger}
}

// ReplaceAll swaps out a user's cached assignment set.
func (w *WorkItems) ReplaceAll(userID string, items []models.CachedWorkItem) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM work_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear work items: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO work_items (id, user_id, payload, refreshed_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		if _, err := stmt.Exec(item.ID, userID, item.Payload, now); err != nil {
			return fmt.Errorf("failed to insert work item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.logger.Debug("Work item cache replaced",
		zap.String("user_id", userID),
		zap.Int("count", len(items)),
	)
	return nil
}

// Get returns one cached item by ID, or nil when absent.
func (w *WorkItems) Get(id string) (*models.CachedWorkItem, error) {
	var item models.CachedWorkItem
	err := w.db.QueryRow(`
		SELECT id, user_id, payload, refreshed_at FROM work_items WHERE id = ?
	`, id).Scan(&item.ID, &item.UserID, &item.Payload, &item.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return &item, nil
}

// ByUser returns a user's cached assignments. Served by the user index.
func (w *WorkItems) ByUser(userID string) ([]models.CachedWorkItem, error) {
	rows, err := w.db.Query(`
		SELECT id, user_id, payload, refreshed_at FROM work_items WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []models.CachedWorkItem
	for rows.Next() {
		var item models.CachedWorkItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Payload, &item.RefreshedAt); err != nil {
			w.logger.Error("Failed to scan work item row", zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Count returns the number of cached work items.
func (w *WorkItems) Count() (int, error) {
	var count int
	if err := w.db.QueryRow(`SELECT COUNT(*) FROM work_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count work items: %w", err)
	}
	return count, nil
}

// Clear drops the whole cache.
func (w *WorkItems) Clear() error {
	if _, err := w.db.Exec(`DELETE FROM work_items`); err != nil {
		return fmt.Errorf("failed to clear work items: %w", err)
	}
	return nil
}
