// Package users manages user records: creation on first sign-in, profile
// edits, moderation flags and participant search.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// DefaultSearchLimit caps search results when no limit is configured.
const DefaultSearchLimit = 20

// Directory is the user service.
type Directory struct {
	db          *store.DB
	log         *zap.Logger
	searchLimit int
	now         func() time.Time
}

// NewDirectory creates a user directory. searchLimit <= 0 means
// DefaultSearchLimit.
func NewDirectory(db *store.DB, searchLimit int, logger *zap.Logger) *Directory {
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{db: db, log: logger.Named("users"), searchLimit: searchLimit, now: time.Now}
}

// Ensure creates the user on first sign-in and refreshes its profile on
// later ones. Reports whether the user was created.
func (d *Directory) Ensure(ctx context.Context, id model.Identity) (*model.User, bool, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return nil, false, apperr.Validation("user_id", "user id is required")
	}
	if id.DisplayName == "" {
		id.DisplayName = displayNameFallback(id)
	}
	created, err := d.db.EnsureUser(ctx, id, d.now())
	if err != nil {
		return nil, false, apperr.Wrap("ensure user", err)
	}
	if created {
		d.log.Info("user created", zap.String("user", id.UserID))
	}
	u, err := d.Get(ctx, id.UserID)
	if err != nil {
		return nil, false, err
	}
	return u, created, nil
}

// displayNameFallback derives a name from the email's local part, or the id.
func displayNameFallback(id model.Identity) string {
	if local, _, ok := strings.Cut(id.Email, "@"); ok && local != "" {
		return local
	}
	return id.UserID
}

// Get returns a user or apperr.ErrNotFound.
func (d *Directory) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := d.db.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap("get user", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user", userID)
	}
	return u, nil
}

// Search returns users whose display name contains query, case-insensitive,
// excluding requesterID and banned users. limit is capped by the configured
// search limit.
func (d *Directory) Search(ctx context.Context, query, requesterID string, limit int) ([]model.User, error) {
	if limit <= 0 || limit > d.searchLimit {
		limit = d.searchLimit
	}
	found, err := d.db.SearchUsers(ctx, query, requesterID, limit)
	if err != nil {
		return nil, apperr.Wrap("search users", err)
	}
	return found, nil
}

// UpdateProfile changes the display name and avatar of a user.
func (d *Directory) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	if strings.TrimSpace(displayName) == "" {
		return apperr.Validation("display_name", "display name is required")
	}
	ok, err := d.db.UpdateProfile(ctx, userID, strings.TrimSpace(displayName), avatarURL)
	if err != nil {
		return apperr.Wrap("update profile", err)
	}
	if !ok {
		return apperr.NotFound("user", userID)
	}
	return nil
}

// SetFlags updates the moderation flags of a user.
func (d *Directory) SetFlags(ctx context.Context, userID string, flags model.UserFlags) error {
	ok, err := d.db.SetUserFlags(ctx, userID, flags)
	if err != nil {
		return apperr.Wrap("set user flags", err)
	}
	if !ok {
		return apperr.NotFound("user", userID)
	}
	d.log.Info("user flags changed", zap.String("user", userID),
		zap.Bool("banned", flags.IsBanned), zap.Bool("verified", flags.IsVerified))
	return nil
}
