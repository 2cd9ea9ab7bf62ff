package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	cause := errors.New("disk I/O error")
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"validation", Validation("text", "message text is empty"), ErrValidation, true},
		{"not found", NotFound("conversation", "dm_a_b"), ErrNotFound, true},
		{"permission", Permission("not creator"), ErrPermission, true},
		{"transport category", Transport("append message", cause), ErrTransport, true},
		{"transport cause", Transport("append message", cause), cause, true},
		{"permission is not not-found", Permission("not creator"), ErrNotFound, false},
		{"wrapped with fmt", fmt.Errorf("send: %w", Permission("banned")), ErrPermission, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NotFound("message", "m1"), "message m1 not found"},
		{Validation("text", "message text is empty"), "message text is empty"},
		{Transport("mark read", errors.New("locked")), "mark read: locked"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	perm := Permission("not sender")
	if got := Wrap("edit", perm); got != perm {
		t.Errorf("Wrap changed a categorised error: %v", got)
	}
	raw := errors.New("database is locked")
	got := Wrap("edit", raw)
	if !errors.Is(got, ErrTransport) || !errors.Is(got, raw) {
		t.Errorf("Wrap(raw) = %v, want transport error wrapping cause", got)
	}
}

func TestCategory(t *testing.T) {
	if Category(errors.New("plain")) != nil {
		t.Error("plain error should have no category")
	}
	if Category(NotFound("user", "u1")) != ErrNotFound {
		t.Error("NotFound should be categorised as ErrNotFound")
	}
}
