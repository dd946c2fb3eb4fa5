package storage

import (
	"database/sql"

	"github.com/google/uuid"

	apperr "karaoke/internal/errors"
	"karaoke/internal/model"
)

// QueueRepository handles the karaoke singer queue. Positions are dense
// (0..n-1) and reassigned on reorder.
type QueueRepository struct {
	db *DB
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Add appends a song for a singer at the end of the queue.
func (r *QueueRepository) Add(songID, singer string) (*model.QueueItem, error) {
	item := &model.QueueItem{
		ID:     uuid.New().String(),
		SongID: songID,
		Singer: singer,
	}

	tx, err := r.db.conn.Begin()
	if err != nil {
		return nil, apperr.Wrap("QueueRepository.Add", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM karaoke_queue`).Scan(&maxPos); err != nil {
		return nil, apperr.Wrap("QueueRepository.Add", err)
	}
	if maxPos.Valid {
		item.Position = int(maxPos.Int64) + 1
	}

	_, err = tx.Exec(`INSERT INTO karaoke_queue (id, song_id, singer, position) VALUES (?, ?, ?, ?)`,
		item.ID, item.SongID, item.Singer, item.Position)
	if err != nil {
		return nil, apperr.Wrap("QueueRepository.Add", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap("QueueRepository.Add", err)
	}
	r.db.checkpoint()
	return item, nil
}

// List returns the queue in position order.
func (r *QueueRepository) List() ([]*model.QueueItem, error) {
	rows, err := r.db.conn.Query(
		`SELECT id, song_id, singer, position FROM karaoke_queue ORDER BY position`)
	if err != nil {
		return nil, apperr.Wrap("QueueRepository.List", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item := &model.QueueItem{}
		if err := rows.Scan(&item.ID, &item.SongID, &item.Singer, &item.Position); err != nil {
			return nil, apperr.Wrap("QueueRepository.List", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Reorder reassigns dense positions following the given id order.
// Ids not in the queue are ignored; queued items missing from the list
// keep their relative order after the reordered ones.
func (r *QueueRepository) Reorder(ids []string) error {
	current, err := r.List()
	if err != nil {
		return err
	}

	ordered := make([]*model.QueueItem, 0, len(current))
	byID := make(map[string]*model.QueueItem, len(current))
	for _, item := range current {
		byID[item.ID] = item
	}
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
			delete(byID, id)
		}
	}
	for _, item := range current {
		if _, left := byID[item.ID]; left {
			ordered = append(ordered, item)
		}
	}

	tx, err := r.db.conn.Begin()
	if err != nil {
		return apperr.Wrap("QueueRepository.Reorder", err)
	}
	defer tx.Rollback()

	for pos, item := range ordered {
		if _, err := tx.Exec(`UPDATE karaoke_queue SET position = ? WHERE id = ?`, pos, item.ID); err != nil {
			return apperr.Wrap("QueueRepository.Reorder", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap("QueueRepository.Reorder", err)
	}
	r.db.checkpoint()
	return nil
}

// Remove deletes an entry and closes the position gap.
func (r *QueueRepository) Remove(id string) error {
	tx, err := r.db.conn.Begin()
	if err != nil {
		return apperr.Wrap("QueueRepository.Remove", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRow(`SELECT position FROM karaoke_queue WHERE id = ?`, id).Scan(&position)
	if err == sql.ErrNoRows {
		return apperr.NewWithMessage("QueueRepository.Remove", apperr.ErrNotFound, "queue entry "+id+" not found")
	}
	if err != nil {
		return apperr.Wrap("QueueRepository.Remove", err)
	}

	if _, err := tx.Exec(`DELETE FROM karaoke_queue WHERE id = ?`, id); err != nil {
		return apperr.Wrap("QueueRepository.Remove", err)
	}
	if _, err := tx.Exec(`UPDATE karaoke_queue SET position = position - 1 WHERE position > ?`, position); err != nil {
		return apperr.Wrap("QueueRepository.Remove", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap("QueueRepository.Remove", err)
	}
	r.db.checkpoint()
	return nil
}

// RemoveBySong deletes every queue entry for a song. Used by song
// deletion before the row cascade would handle it, so positions stay
// dense.
func (r *QueueRepository) RemoveBySong(songID string) error {
	items, err := r.List()
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.SongID == songID {
			if err := r.Remove(item.ID); err != nil && !apperr.IsNotFound(err) {
				return err
			}
		}
	}
	return nil
}
