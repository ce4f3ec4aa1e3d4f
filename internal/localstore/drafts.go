package localstore

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/operchat/echat/internal/repo"
)

// draftFlushDelay batches keystroke-frequency draft updates into one write.
const draftFlushDelay = 500 * time.Millisecond

// SaveDraft upserts the draft text for one conversation. An empty body
// deletes the row.
func (db *DB) SaveDraft(sel repo.Selection, body string) error {
	if body == "" {
		_, err := db.Exec(`DELETE FROM drafts WHERE entity = ? AND conversation_id = ? AND contact_id = ?`,
			sel.Entity.String(), sel.ID, sel.ContactID)
		return err
	}
	_, err := db.Exec(`
		INSERT INTO drafts (entity, conversation_id, contact_id, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity, conversation_id, contact_id)
		DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		sel.Entity.String(), sel.ID, sel.ContactID, body, time.Now().UnixMilli())
	return err
}

// GetDraft returns the stored draft for one conversation, empty if none.
func (db *DB) GetDraft(sel repo.Selection) (string, error) {
	var body string
	err := db.QueryRow(`SELECT body FROM drafts WHERE entity = ? AND conversation_id = ? AND contact_id = ?`,
		sel.Entity.String(), sel.ID, sel.ContactID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return body, err
}

// Drafts returns all stored drafts keyed by conversation.
func (db *DB) Drafts() (map[repo.Selection]string, error) {
	rows, err := db.Query(`SELECT entity, conversation_id, contact_id, body FROM drafts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[repo.Selection]string)
	for rows.Next() {
		var entity string
		var sel repo.Selection
		var body string
		if err := rows.Scan(&entity, &sel.ID, &sel.ContactID, &body); err != nil {
			return nil, err
		}
		e, err := repo.EntityFromString(entity)
		if err != nil {
			continue
		}
		sel.Entity = e
		out[sel] = body
	}
	return out, rows.Err()
}

// DraftWriter debounces draft writes. Queue may be called on every
// keystroke; each conversation's latest body is written once per flush
// window. Close flushes whatever is pending.
type DraftWriter struct {
	db *DB

	mu      sync.Mutex
	pending map[repo.Selection]string
	timer   *time.Timer
	delay   time.Duration
	closed  bool
}

// NewDraftWriter creates a debounced draft writer.
func NewDraftWriter(db *DB) *DraftWriter {
	return &DraftWriter{
		db:      db,
		pending: make(map[repo.Selection]string),
		delay:   draftFlushDelay,
	}
}

// Queue records the latest draft body for a conversation and arms the flush
// timer.
func (w *DraftWriter) Queue(sel repo.Selection, body string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[sel] = body
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flushTimer)
	} else {
		w.timer.Reset(w.delay)
	}
}

func (w *DraftWriter) flushTimer() {
	_ = w.Flush()
}

// Flush writes all pending drafts now.
func (w *DraftWriter) Flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[repo.Selection]string)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	var firstErr error
	for sel, body := range batch {
		if err := w.db.SaveDraft(sel, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes pending drafts and stops accepting new ones.
func (w *DraftWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush()
}
