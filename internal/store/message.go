package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/model"
)

const messageColumns = `id, conversation_id, sender_id, text, status, deleted, created_at, edited_at`

// AppendMessage stores m and, in the same transaction, moves the
// conversation's last-message summary to it and increments the unread
// counter of every member except the sender. Either all three writes are
// visible or none is. The summary only moves forward in (created_at, id)
// order, so a racing send that commits late never replaces a newer one.
// It returns the ids of the conversation's members.
func (db *DB) AppendMessage(ctx context.Context, m *model.Message, previewLen int) ([]string, error) {
	if err := m.Validate(); err != nil {
		return nil, apperr.Validation("message", err.Error())
	}
	var members []string
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var kind string
		err := tx.QueryRowContext(ctx, `SELECT kind FROM conversations WHERE id = ?`, m.ConversationID).Scan(&kind)
		if err == sql.ErrNoRows {
			return apperr.NotFound("conversation", m.ConversationID)
		}
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if model.Kind(kind) == model.KindDM {
			var participant bool
			err := tx.QueryRowContext(ctx, `
				SELECT participant FROM conversation_members WHERE conversation_id = ? AND user_id = ?`,
				m.ConversationID, m.SenderID).Scan(&participant)
			if err == sql.ErrNoRows || (err == nil && !participant) {
				return apperr.Permission("sender is not a participant of this conversation")
			}
			if err != nil {
				return fmt.Errorf("load sender membership: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, text, status, deleted, created_at, edited_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, 0)`,
			m.ID, m.ConversationID, m.SenderID, m.Text, string(m.Status), toMillis(m.CreatedAt)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET
				last_message_at = ?,
				last_message_id = ?,
				last_message_preview = ?,
				last_message_sender = ?
			WHERE id = ? AND (last_message_at < ? OR (last_message_at = ? AND last_message_id < ?))`,
			toMillis(m.CreatedAt), m.ID, model.Preview(m.Text, previewLen), m.SenderID,
			m.ConversationID, toMillis(m.CreatedAt), toMillis(m.CreatedAt), m.ID); err != nil {
			return fmt.Errorf("update summary: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversation_members SET unread_count = unread_count + 1
			WHERE conversation_id = ? AND user_id != ?`,
			m.ConversationID, m.SenderID); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
		members, err = memberIDs(ctx, tx, m.ConversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// EditMessage replaces the text of a message sent by requesterID.
func (db *DB) EditMessage(ctx context.Context, conversationID, messageID, requesterID, text string, at time.Time, previewLen int) (*model.Message, error) {
	return db.rewriteMessage(ctx, conversationID, messageID, requesterID, previewLen, func(tx *sql.Tx, m *model.Message) error {
		if m.Deleted {
			return apperr.Validation("message", "deleted messages cannot be edited")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET text = ?, status = ?, edited_at = ? WHERE id = ?`,
			text, string(model.StatusEdited), toMillis(at), messageID); err != nil {
			return fmt.Errorf("edit message: %w", err)
		}
		m.Text = text
		m.Status = model.StatusEdited
		m.EditedAt = &at
		return nil
	})
}

// SoftDeleteMessage replaces the text of a message sent by requesterID with
// the tombstone. The row is kept so ordering and counts stay stable.
func (db *DB) SoftDeleteMessage(ctx context.Context, conversationID, messageID, requesterID string, previewLen int) (*model.Message, error) {
	return db.rewriteMessage(ctx, conversationID, messageID, requesterID, previewLen, func(tx *sql.Tx, m *model.Message) error {
		if m.Deleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET text = ?, deleted = 1 WHERE id = ?`,
			model.Tombstone, messageID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		m.Text = model.Tombstone
		m.Deleted = true
		return nil
	})
}

// rewriteMessage loads a message, enforces sender ownership, applies fn and
// refreshes the conversation preview if the message is the latest one.
func (db *DB) rewriteMessage(ctx context.Context, conversationID, messageID, requesterID string, previewLen int, fn func(*sql.Tx, *model.Message) error) (*model.Message, error) {
	var out *model.Message
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID))
		if err == sql.ErrNoRows {
			return apperr.NotFound("message", messageID)
		}
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		if m.SenderID != requesterID {
			return apperr.Permission("only the sender can change this message")
		}
		if err := fn(tx, m); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_preview = ?
			WHERE id = ? AND last_message_id = ?`,
			model.Preview(m.Text, previewLen), conversationID, messageID); err != nil {
			return fmt.Errorf("refresh summary: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage returns a message, or nil if it does not exist.
func (db *DB) GetMessage(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit messages of a conversation positioned
// before the cursor, newest first. A zero cursor means no bound.
func (db *DB) ListMessages(ctx context.Context, conversationID string, before model.Cursor, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeTs := toMillis(before.CreatedAt)
	if beforeTs <= 0 {
		beforeTs = math.MaxInt64
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
			AND (created_at < ? OR (? != '' AND created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeTs, before.ID, beforeTs, before.ID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages in a conversation, or in all
// conversations when conversationID is empty.
func (db *DB) MessageCount(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	var err error
	if conversationID == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	}
	return count, err
}

func scanMessage(s scanner) (*model.Message, error) {
	var m model.Message
	var status string
	var createdAt, editedAt int64
	if err := s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &status, &m.Deleted, &createdAt, &editedAt); err != nil {
		return nil, err
	}
	m.Status = model.MessageStatus(status)
	m.CreatedAt = fromMillis(createdAt)
	if editedAt != 0 {
		t := fromMillis(editedAt)
		m.EditedAt = &t
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return &m, nil
}
