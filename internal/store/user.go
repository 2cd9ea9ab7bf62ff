package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatd/internal/model"
)

const userColumns = `id, display_name, email, avatar_url, created_at, last_seen_at, is_online, is_banned, is_verified`

// EnsureUser creates the user on first sign-in and refreshes non-empty
// profile fields on later sign-ins. Reports whether the row was created.
func (db *DB) EnsureUser(ctx context.Context, id model.Identity, at time.Time) (bool, error) {
	var created bool
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, display_name, email, avatar_url, created_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			id.UserID, id.DisplayName, id.Email, id.AvatarURL, toMillis(at), toMillis(at))
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		n, _ := res.RowsAffected()
		created = n == 1
		if created {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET
				display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
				email = CASE WHEN ? != '' THEN ? ELSE email END,
				avatar_url = CASE WHEN ? != '' THEN ? ELSE avatar_url END
			WHERE id = ?`,
			id.DisplayName, id.DisplayName, id.Email, id.Email, id.AvatarURL, id.AvatarURL, id.UserID)
		if err != nil {
			return fmt.Errorf("refresh user: %w", err)
		}
		return nil
	})
	return created, err
}

// GetUser returns a user by id, or nil if it does not exist.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateProfile sets the editable profile fields of a user.
func (db *DB) UpdateProfile(ctx context.Context, id, displayName, avatarURL string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET display_name = ?, avatar_url = ? WHERE id = ?`, displayName, avatarURL, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetUserFlags updates the moderation flags of a user.
func (db *DB) SetUserFlags(ctx context.Context, id string, flags model.UserFlags) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET is_banned = ?, is_verified = ? WHERE id = ?`, flags.IsBanned, flags.IsVerified, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetPresence mirrors the live presence of a user onto its record.
func (db *DB) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET is_online = ?, last_seen_at = ? WHERE id = ?`, online, toMillis(at), id)
	return err
}

// LastSeen returns the persisted last-seen time of the given users. Unknown
// ids are absent from the result.
func (db *DB) LastSeen(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, last_seen_at FROM users WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = fromMillis(ts)
	}
	return out, rows.Err()
}

// SearchUsers returns non-banned users whose display name contains query
// (case-insensitive), excluding excludeID, ordered by display name.
func (db *DB) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE display_name LIKE ? ESCAPE '\' AND id != ? AND is_banned = 0
		ORDER BY display_name COLLATE NOCASE, id
		LIMIT ?`, pattern, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of users.
func (db *DB) UserCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var createdAt, lastSeen int64
	if err := s.Scan(&u.ID, &u.DisplayName, &u.Email, &u.AvatarURL, &createdAt, &lastSeen,
		&u.IsOnline, &u.Flags.IsBanned, &u.Flags.IsVerified); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.LastSeenAt = fromMillis(lastSeen)
	return &u, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
