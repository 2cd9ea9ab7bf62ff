package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatd/internal/api"
	"github.com/matheus3301/chatd/internal/client"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/profile"
)

type cli struct {
	c       *client.Client
	user    string
	name    string
	jsonOut bool
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	userFlag := flag.String("user", os.Getenv("USER"), "user id to act as")
	nameFlag := flag.String("name", "", "display name used by open (defaults to the user id)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := &cli{c: c, user: *userFlag, name: *nameFlag, jsonOut: *jsonFlag}

	if args[0] == "open" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := app.open(ctx); err != nil {
			fatal(err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.run(ctx, args[0], args[1:]); err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--user <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  open                            Open a session and stream updates")
	fmt.Fprintln(os.Stderr, "  list                            List conversations")
	fmt.Fprintln(os.Stderr, "  history <conv> [before_ms [before_id]]  Show messages of a conversation")
	fmt.Fprintln(os.Stderr, "  dm <user>                       Start a direct message")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>              Send a message")
	fmt.Fprintln(os.Stderr, "  edit <conv> <msg> <text>        Edit one of your messages")
	fmt.Fprintln(os.Stderr, "  rm <conv> <msg>                 Delete one of your messages")
	fmt.Fprintln(os.Stderr, "  read <conv>                     Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  delete <conv>                   Delete a DM you started")
	fmt.Fprintln(os.Stderr, "  pin <conv> on|off               Pin or unpin a DM")
	fmt.Fprintln(os.Stderr, "  archive <conv> on|off           Archive or restore a DM")
	fmt.Fprintln(os.Stderr, "  users <query>                   Search users")
	fmt.Fprintln(os.Stderr, "  select <session> <conv>         Select a conversation in a session")
	fmt.Fprintln(os.Stderr, "  typing <session> <conv> on|off  Signal typing in a session")
}

func usage(format string) error {
	return fmt.Errorf("usage: chatctl %s", format)
}

func (a *cli) caller() api.Caller {
	return api.Caller{UserID: a.user}
}

func (a *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return a.status(ctx)
	case "list":
		resp, err := a.c.ListConversations(ctx, &api.ListConversationsRequest{Caller: a.caller()})
		if err != nil {
			return err
		}
		return a.print(resp, func() { printConversations(resp.Conversations, a.user) })
	case "history":
		if len(args) < 1 {
			return usage("history <conv> [before_ms [before_id]]")
		}
		req := &api.ListMessagesRequest{Caller: a.caller(), ConversationID: args[0]}
		if len(args) > 1 {
			if _, err := fmt.Sscan(args[1], &req.BeforeUnixMs); err != nil {
				return fmt.Errorf("before_ms: %w", err)
			}
		}
		if len(args) > 2 {
			req.BeforeID = args[2]
		}
		resp, err := a.c.ListMessages(ctx, req)
		if err != nil {
			return err
		}
		return a.print(resp, func() {
			printMessages(resp.Messages)
			if resp.HasMore && len(resp.Messages) > 0 {
				oldest := resp.Messages[0]
				fmt.Printf("(more before %d %s)\n", oldest.CreatedAt.UnixMilli(), oldest.ID)
			}
		})
	case "dm":
		if len(args) < 1 {
			return usage("dm <user>")
		}
		resp, err := a.c.StartDM(ctx, &api.StartDMRequest{Caller: a.caller(), OtherUserID: args[0]})
		if err != nil {
			return err
		}
		return a.print(resp, func() { fmt.Println(resp.Conversation.ID) })
	case "send":
		if len(args) < 2 {
			return usage("send <conv> <text>")
		}
		resp, err := a.c.Send(ctx, &api.SendRequest{Caller: a.caller(), ConversationID: args[0], Text: strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		return a.print(resp, func() { fmt.Println(resp.Message.ID) })
	case "edit":
		if len(args) < 3 {
			return usage("edit <conv> <msg> <text>")
		}
		resp, err := a.c.Edit(ctx, &api.EditRequest{Caller: a.caller(), ConversationID: args[0], MessageID: args[1], Text: strings.Join(args[2:], " ")})
		if err != nil {
			return err
		}
		return a.print(resp, func() { printMessages([]model.Message{*resp.Message}) })
	case "rm":
		if len(args) < 2 {
			return usage("rm <conv> <msg>")
		}
		resp, err := a.c.DeleteMessage(ctx, &api.DeleteMessageRequest{Caller: a.caller(), ConversationID: args[0], MessageID: args[1]})
		if err != nil {
			return err
		}
		return a.print(resp, func() { printMessages([]model.Message{*resp.Message}) })
	case "read":
		if len(args) < 1 {
			return usage("read <conv>")
		}
		return a.c.MarkRead(ctx, &api.ConversationRequest{Caller: a.caller(), ConversationID: args[0]})
	case "delete":
		if len(args) < 1 {
			return usage("delete <conv>")
		}
		return a.c.DeleteConversation(ctx, &api.ConversationRequest{Caller: a.caller(), ConversationID: args[0]})
	case "pin", "archive":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			return usage(cmd + " <conv> on|off")
		}
		req := &api.FlagRequest{Caller: a.caller(), ConversationID: args[0], On: args[1] == "on"}
		if cmd == "pin" {
			return a.c.SetPinned(ctx, req)
		}
		return a.c.SetArchived(ctx, req)
	case "users":
		query := strings.Join(args, " ")
		resp, err := a.c.SearchUsers(ctx, &api.SearchUsersRequest{Caller: a.caller(), Query: query})
		if err != nil {
			return err
		}
		return a.print(resp, func() {
			if len(resp.Users) == 0 {
				fmt.Println("No users found.")
			}
			for _, u := range resp.Users {
				fmt.Printf("%-20s %s\n", u.ID, u.DisplayName)
			}
		})
	case "select":
		if len(args) < 2 {
			return usage("select <session> <conv>")
		}
		return a.c.Select(ctx, &api.SelectRequest{SessionID: args[0], ConversationID: args[1]})
	case "typing":
		if len(args) < 3 || (args[2] != "on" && args[2] != "off") {
			return usage("typing <session> <conv> on|off")
		}
		return a.c.SetTyping(ctx, &api.SetTypingRequest{SessionID: args[0], ConversationID: args[1], Typing: args[2] == "on"})
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *cli) status(ctx context.Context) error {
	resp, err := a.c.Status(ctx)
	if err != nil {
		return err
	}
	return a.print(resp, func() {
		fmt.Printf("Profile:       %s\n", resp.Profile)
		fmt.Printf("State:         %s\n", resp.State)
		fmt.Printf("Uptime:        %dms\n", resp.UptimeMs)
		fmt.Printf("Sessions:      %d\n", resp.Sessions)
		fmt.Printf("Connections:   %d\n", resp.Connections)
		fmt.Printf("Users:         %d\n", resp.Users)
		fmt.Printf("Conversations: %d\n", resp.Conversations)
	})
}

// open holds a session until ctx is cancelled, printing every update.
func (a *cli) open(ctx context.Context) error {
	name := a.name
	if name == "" {
		name = a.user
	}
	req := &api.ConnectRequest{Identity: model.Identity{UserID: a.user, DisplayName: name}}
	return a.c.Connect(ctx, req, func(u *api.Update) error {
		if a.jsonOut {
			outputJSON(u)
			return nil
		}
		switch u.Kind {
		case api.UpdateSession:
			fmt.Printf("session %s opened as %s\n", u.SessionID, u.User.DisplayName)
		case api.UpdateConversations:
			fmt.Println("-- conversations")
			printConversations(u.Conversations, a.user)
		case api.UpdateMessages:
			fmt.Printf("-- %s\n", u.Messages.ConversationID)
			printMessages(u.Messages.Messages)
		case api.UpdateTyping:
			if len(u.Typing.UserIDs) > 0 {
				fmt.Printf("-- %s typing: %s\n", u.Typing.ConversationID, strings.Join(u.Typing.UserIDs, ", "))
			}
		case api.UpdatePresence:
			ids := make([]string, 0, len(u.Presence))
			for id := range u.Presence {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			fmt.Println("-- presence")
			for _, id := range ids {
				p := u.Presence[id]
				state := "offline"
				if p.IsOnline {
					state = "online"
				} else if !p.LastSeenAt.IsZero() {
					state = "last seen " + p.LastSeenAt.Format(time.DateTime)
				}
				fmt.Printf("  %-20s %s\n", id, state)
			}
		}
		return nil
	})
}

func printConversations(convs []model.Conversation, userID string) {
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range convs {
		title := c.Metadata.Title
		if title == "" {
			title = strings.Join(c.Participants, ", ")
		}
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.TextPreview
		}
		fmt.Printf("%-30s %-20s %3d  %s\n", c.ID, title, c.Unread(userID), preview)
	}
}

func printMessages(msgs []model.Message) {
	for _, m := range msgs {
		marker := ""
		if m.Status == model.StatusEdited {
			marker = " (edited)"
		}
		fmt.Printf("[%s] %-12s %s%s  %s\n", m.CreatedAt.Format(time.TimeOnly), m.SenderID, m.Text, marker, m.ID)
	}
}

func (a *cli) print(v any, text func()) error {
	if a.jsonOut {
		outputJSON(v)
		return nil
	}
	text()
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
