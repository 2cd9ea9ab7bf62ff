package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/model"
)

const conversationColumns = `c.id, c.kind, c.created_by, c.created_at, c.last_message_at,
	c.last_message_id, c.last_message_preview, c.last_message_sender, c.archived, c.pinned, c.title`

// Member is a row of conversation_members.
type Member struct {
	UserID      string
	Participant bool
	UnreadCount int
	LastReadAt  time.Time
}

// CreateConversation inserts conv and its members unless a conversation with
// the same id already exists. Both writes happen in one transaction, so two
// racing creators converge on the first committed record. Reports whether
// this call created it.
func (db *DB) CreateConversation(ctx context.Context, conv *model.Conversation, members []Member) (bool, error) {
	var created bool
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, kind, created_by, created_at, archived, pinned, title)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			conv.ID, string(conv.Kind), conv.CreatedBy, toMillis(conv.CreatedAt),
			conv.Metadata.Archived, conv.Metadata.Pinned, conv.Metadata.Title)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		n, _ := res.RowsAffected()
		created = n == 1
		if !created {
			return nil
		}
		for _, m := range members {
			if _, err := insertMember(ctx, tx, conv.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}

// AddMember adds userID to a conversation if it is not a member yet.
// Reports whether the row was inserted.
func (db *DB) AddMember(ctx context.Context, conversationID string, m Member) (bool, error) {
	return insertMember(ctx, db, conversationID, m)
}

func insertMember(ctx context.Context, q querier, conversationID string, m Member) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, participant, unread_count, last_read_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO NOTHING`,
		conversationID, m.UserID, m.Participant, m.UnreadCount, toMillis(m.LastReadAt))
	if err != nil {
		return false, fmt.Errorf("insert member %q: %w", m.UserID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetConversation returns a conversation with its members, or nil if it
// does not exist.
func (db *DB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	convs := []model.Conversation{*conv}
	if err := db.attachMembers(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// ConversationExists reports whether a conversation record exists.
func (db *DB) ConversationExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListConversationsForUser returns the conversations userID participates in
// plus the broadcast conversation, broadcast first, then by last activity.
func (db *DB) ListConversationsForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.id = ?
		   OR c.id IN (SELECT conversation_id FROM conversation_members WHERE user_id = ? AND participant = 1)
		ORDER BY (c.id = ?) DESC, c.last_message_at DESC, c.created_at DESC, c.id`,
		model.BroadcastID, userID, model.BroadcastID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := db.attachMembers(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// MarkRead resets the unread counter of userID. Reports false when the
// conversation or member does not exist.
func (db *DB) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE conversation_members SET unread_count = 0, last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?`,
		toMillis(at), conversationID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetConversationPinned updates only the pinned flag.
func (db *DB) SetConversationPinned(ctx context.Context, id string, pinned bool) error {
	_, err := db.ExecContext(ctx, `UPDATE conversations SET pinned = ? WHERE id = ?`, pinned, id)
	return err
}

// SetConversationArchived updates only the archived flag.
func (db *DB) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	_, err := db.ExecContext(ctx, `UPDATE conversations SET archived = ? WHERE id = ?`, archived, id)
	return err
}

// DeleteConversation removes a DM created by requesterID together with all
// of its messages and members in a single transaction. It returns the ids of
// the former participants.
func (db *DB) DeleteConversation(ctx context.Context, id, requesterID string) ([]string, error) {
	var participants []string
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		var kind, createdBy string
		err := tx.QueryRowContext(ctx, `SELECT kind, created_by FROM conversations WHERE id = ?`, id).Scan(&kind, &createdBy)
		if err == sql.ErrNoRows {
			return apperr.NotFound("conversation", id)
		}
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if model.Kind(kind) != model.KindDM {
			return apperr.Permission("only direct messages can be deleted: not a DM")
		}
		if createdBy != requesterID {
			return apperr.Permission("only the creator can delete this conversation: not creator")
		}

		participants, err = memberIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("delete members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

func memberIDs(ctx context.Context, q querier, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// attachMembers fills participants, unread counters and read marks.
func (db *DB) attachMembers(ctx context.Context, convs []model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	index := make(map[string]int, len(convs))
	ids := make([]string, len(convs))
	for i := range convs {
		index[convs[i].ID] = i
		ids[i] = convs[i].ID
		convs[i].UnreadCounts = map[string]int{}
		convs[i].LastReadAt = map[string]time.Time{}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, user_id, participant, unread_count, last_read_at
		FROM conversation_members
		WHERE conversation_id IN (`+placeholders(len(ids))+`)
		ORDER BY conversation_id, user_id`, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var convID string
		var m Member
		var lastRead int64
		if err := rows.Scan(&convID, &m.UserID, &m.Participant, &m.UnreadCount, &lastRead); err != nil {
			return err
		}
		c := &convs[index[convID]]
		if m.Participant {
			c.Participants = append(c.Participants, m.UserID)
		}
		c.UnreadCounts[m.UserID] = m.UnreadCount
		if lastRead != 0 {
			c.LastReadAt[m.UserID] = fromMillis(lastRead)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range convs {
		if err := convs[i].Validate(); err != nil {
			return fmt.Errorf("malformed conversation: %w", err)
		}
	}
	return nil
}

func scanConversation(s scanner) (*model.Conversation, error) {
	var c model.Conversation
	var kind, lastID, preview, lastSender string
	var createdAt, lastAt int64
	if err := s.Scan(&c.ID, &kind, &c.CreatedBy, &createdAt, &lastAt,
		&lastID, &preview, &lastSender, &c.Metadata.Archived, &c.Metadata.Pinned, &c.Metadata.Title); err != nil {
		return nil, err
	}
	k, err := model.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	c.Kind = k
	c.CreatedAt = fromMillis(createdAt)
	c.LastMessageAt = fromMillis(lastAt)
	if lastID != "" {
		c.LastMessage = &model.Summary{
			MessageID:   lastID,
			TextPreview: preview,
			SenderID:    lastSender,
			CreatedAt:   c.LastMessageAt,
		}
	}
	return &c, nil
}
