// Package client dials a running chatd over its Unix domain socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/chatd/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon. Errors returned by its
// methods carry apperr categories.
type Client struct {
	conn *grpc.ClientConn
	Chat *api.ChatServiceClient
}

// New dials the daemon's Unix domain socket and returns a typed client.
func New(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return NewTarget("unix://"+socketPath, opts...)
}

// NewTarget dials an arbitrary gRPC target.
func NewTarget(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Chat: api.NewChatServiceClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	resp, err := c.Chat.Status(ctx, &api.StatusRequest{})
	return resp, api.FromStatus(err)
}

// Connect opens a session and calls fn for every update until the stream
// ends, ctx is cancelled or fn returns an error.
func (c *Client) Connect(ctx context.Context, req *api.ConnectRequest, fn func(*api.Update) error) error {
	stream, err := c.Chat.Connect(ctx, req)
	if err != nil {
		return api.FromStatus(err)
	}
	for {
		u, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return api.FromStatus(err)
		}
		if err := fn(u); err != nil {
			return err
		}
	}
}

func (c *Client) StartDM(ctx context.Context, req *api.StartDMRequest) (*api.ConversationResponse, error) {
	resp, err := c.Chat.StartDM(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) Send(ctx context.Context, req *api.SendRequest) (*api.MessageResponse, error) {
	resp, err := c.Chat.Send(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) Edit(ctx context.Context, req *api.EditRequest) (*api.MessageResponse, error) {
	resp, err := c.Chat.Edit(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) DeleteMessage(ctx context.Context, req *api.DeleteMessageRequest) (*api.MessageResponse, error) {
	resp, err := c.Chat.DeleteMessage(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) MarkRead(ctx context.Context, req *api.ConversationRequest) error {
	_, err := c.Chat.MarkRead(ctx, req)
	return api.FromStatus(err)
}

func (c *Client) DeleteConversation(ctx context.Context, req *api.ConversationRequest) error {
	_, err := c.Chat.DeleteConversation(ctx, req)
	return api.FromStatus(err)
}

func (c *Client) SetPinned(ctx context.Context, req *api.FlagRequest) error {
	_, err := c.Chat.SetPinned(ctx, req)
	return api.FromStatus(err)
}

func (c *Client) SetArchived(ctx context.Context, req *api.FlagRequest) error {
	_, err := c.Chat.SetArchived(ctx, req)
	return api.FromStatus(err)
}

func (c *Client) ListConversations(ctx context.Context, req *api.ListConversationsRequest) (*api.ListConversationsResponse, error) {
	resp, err := c.Chat.ListConversations(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) ListMessages(ctx context.Context, req *api.ListMessagesRequest) (*api.ListMessagesResponse, error) {
	resp, err := c.Chat.ListMessages(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) SearchUsers(ctx context.Context, req *api.SearchUsersRequest) (*api.SearchUsersResponse, error) {
	resp, err := c.Chat.SearchUsers(ctx, req)
	return resp, api.FromStatus(err)
}

func (c *Client) Select(ctx context.Context, req *api.SelectRequest) error {
	_, err := c.Chat.Select(ctx, req)
	return api.FromStatus(err)
}

func (c *Client) SetTyping(ctx context.Context, req *api.SetTypingRequest) error {
	_, err := c.Chat.SetTyping(ctx, req)
	return api.FromStatus(err)
}
