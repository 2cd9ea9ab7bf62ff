package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatd/internal/api"
	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/chat"
	"github.com/matheus3301/chatd/internal/client"
	"github.com/matheus3301/chatd/internal/conversations"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/messages"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/presence"
	"github.com/matheus3301/chatd/internal/profile"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/matheus3301/chatd/internal/typing"
	"github.com/matheus3301/chatd/internal/users"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "chatd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	profileName := "test"
	profileDir := filepath.Join(tmpDir, profileName)
	socketPath := filepath.Join(profileDir, "d.sock")

	if err := os.MkdirAll(profileDir, 0700); err != nil {
		t.Fatal(err)
	}

	// Acquire lock.
	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// Open store.
	db, err := store.Open(filepath.Join(profileDir, "chatd.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components.
	logger := zap.NewNop()
	b := bus.New()
	rt := realtime.New(b)
	machine := status.NewMachine(b)
	svc := chat.NewService(chat.Deps{
		Users:         users.NewDirectory(db, 0, logger),
		Conversations: conversations.NewDirectory(db, b, "", logger),
		Messages:      messages.NewStore(db, b, messages.Options{}, logger),
		Typing:        typing.NewTracker(rt, b, time.Second, logger),
		Presence:      presence.NewTracker(rt, b, db, logger),
		Realtime:      rt,
	}, chat.Options{AnnounceJoins: true}, logger)
	defer svc.Close()

	srv, err := NewServer(
		Params{ProfileName: profileName, SocketPath: socketPath},
		logger,
		machine,
		api.NewChatService(profileName, machine, svc, db, rt, logger),
	)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Calls other than Status are refused until the daemon is ready.
	resp, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Profile != profileName {
		t.Errorf("profile = %q, want %q", resp.Profile, profileName)
	}
	if resp.State != string(status.Booting) {
		t.Errorf("state = %v, want BOOTING", resp.State)
	}
	_, err = c.Send(ctx, &api.SendRequest{Caller: api.Caller{UserID: "u1"}, ConversationID: model.BroadcastID, Text: "early"})
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("Send while booting error = %v, want transport error", err)
	}

	if err := machine.Transition(status.Ready); err != nil {
		t.Fatal(err)
	}

	// Open a session over the stream and wait for the broadcast page.
	streamCtx, stopStream := context.WithCancel(ctx)
	sessionCh := make(chan string, 1)
	pageCh := make(chan *chat.MessagePage, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.Connect(streamCtx, &api.ConnectRequest{Identity: model.Identity{UserID: "u1", DisplayName: "Una"}}, func(u *api.Update) error {
			switch u.Kind {
			case api.UpdateSession:
				sessionCh <- u.SessionID
			case api.UpdateMessages:
				select {
				case pageCh <- u.Messages:
				default:
				}
			}
			return nil
		})
	}()

	var sessionID string
	select {
	case sessionID = <-sessionCh:
	case <-ctx.Done():
		t.Fatal("no session opened")
	}
	var page *chat.MessagePage
	select {
	case page = <-pageCh:
	case <-ctx.Done():
		t.Fatal("no message page received")
	}
	if page.ConversationID != model.BroadcastID {
		t.Errorf("selected = %q, want broadcast", page.ConversationID)
	}
	if len(page.Messages) != 1 || page.Messages[0].Text != "Una joined the chat" {
		t.Errorf("broadcast messages = %+v, want the join announcement", page.Messages)
	}

	sent, err := c.Send(ctx, &api.SendRequest{Caller: api.Caller{SessionID: sessionID}, Text: "hello"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if sent.Message.ConversationID != model.BroadcastID {
		t.Errorf("conversation = %q, want broadcast", sent.Message.ConversationID)
	}

	list, err := c.ListConversations(ctx, &api.ListConversationsRequest{Caller: api.Caller{UserID: "u1"}})
	if err != nil {
		t.Fatalf("ListConversations error = %v", err)
	}
	if len(list.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list.Conversations))
	}
	if got := list.Conversations[0].LastMessage; got == nil || got.TextPreview != "hello" {
		t.Errorf("last message = %+v, want preview hello", got)
	}

	resp, err = c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Sessions != 1 || resp.Connections != 1 {
		t.Errorf("sessions = %d, connections = %d, want 1 and 1", resp.Sessions, resp.Connections)
	}

	// Ending the stream ends the session and takes the user offline.
	stopStream()
	<-done
	deadline := time.Now().Add(3 * time.Second)
	for svc.SessionCount() != 0 || svc.Presence.Online("u1") {
		if time.Now().After(deadline) {
			t.Fatal("session still open after the stream ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestNewServerUsesParams verifies NewServer takes its socket path from
// Params. A bare string parameter cannot be resolved by fx.
func TestNewServerUsesParams(t *testing.T) {
	// Use /tmp for short socket paths (macOS 104-char limit).
	tmpDir, err := os.MkdirTemp("/tmp", "chatd-srv-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	machine := status.NewMachine(nil)
	srv, err := NewServer(
		Params{ProfileName: "srvtest", SocketPath: socketPath},
		zap.NewNop(),
		machine,
		api.NewChatService("srvtest", machine, nil, nil, nil, nil),
	)
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}

	// Verify socket was created inside the temp dir (not ~/.chatd).
	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}

	srv.Stop(context.Background())
	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Errorf("socket still present after Stop: %v", statErr)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves, the daemon
// reaches READY and shutting down releases the profile lock.
func TestFxModuleWiring(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "chatd-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	t.Setenv(profile.HomeEnv, tmpDir)

	socketPath := filepath.Join(tmpDir, "d.sock")
	var machine *status.Machine
	app := fxtest.New(t,
		Module(Params{ProfileName: "fxtest", SocketPath: socketPath}),
		fx.Populate(&machine),
		fx.NopLogger,
	)
	app.RequireStart()

	if got := machine.Current(); got != status.Ready {
		t.Errorf("state after start = %v, want READY", got)
	}
	if _, held := lock.Holder(profile.Dir("fxtest")); !held {
		t.Error("profile lock not held while running")
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Profile != "fxtest" {
		t.Errorf("profile = %q, want fxtest", resp.Profile)
	}

	app.RequireStop()

	if got := machine.Current(); got != status.Stopped {
		t.Errorf("state after stop = %v, want STOPPED", got)
	}
	if _, held := lock.Holder(profile.Dir("fxtest")); held {
		t.Error("profile lock still held after stop")
	}
}
