package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "chat.v1.Chat"

const (
	MethodStatus             = "/" + ServiceName + "/Status"
	MethodConnect            = "/" + ServiceName + "/Connect"
	MethodStartDM            = "/" + ServiceName + "/StartDM"
	MethodSend               = "/" + ServiceName + "/Send"
	MethodEdit               = "/" + ServiceName + "/Edit"
	MethodDeleteMessage      = "/" + ServiceName + "/DeleteMessage"
	MethodMarkRead           = "/" + ServiceName + "/MarkRead"
	MethodDeleteConversation = "/" + ServiceName + "/DeleteConversation"
	MethodSetPinned          = "/" + ServiceName + "/SetPinned"
	MethodSetArchived        = "/" + ServiceName + "/SetArchived"
	MethodListConversations  = "/" + ServiceName + "/ListConversations"
	MethodListMessages       = "/" + ServiceName + "/ListMessages"
	MethodSearchUsers        = "/" + ServiceName + "/SearchUsers"
	MethodSelect             = "/" + ServiceName + "/Select"
	MethodSetTyping          = "/" + ServiceName + "/SetTyping"
)

// ChatServiceServer is the server API for the chat service.
type ChatServiceServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Connect(*ConnectRequest, grpc.ServerStreamingServer[Update]) error
	StartDM(context.Context, *StartDMRequest) (*ConversationResponse, error)
	Send(context.Context, *SendRequest) (*MessageResponse, error)
	Edit(context.Context, *EditRequest) (*MessageResponse, error)
	DeleteMessage(context.Context, *DeleteMessageRequest) (*MessageResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	DeleteConversation(context.Context, *ConversationRequest) (*Empty, error)
	SetPinned(context.Context, *FlagRequest) (*Empty, error)
	SetArchived(context.Context, *FlagRequest) (*Empty, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SearchUsers(context.Context, *SearchUsersRequest) (*SearchUsersResponse, error)
	Select(context.Context, *SelectRequest) (*Empty, error)
	SetTyping(context.Context, *SetTypingRequest) (*Empty, error)
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// unary builds the method descriptor of one unary call.
func unary[Req, Resp any](name string, call func(ChatServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	in := new(ConnectRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).Connect(in, &grpc.GenericServerStream[ConnectRequest, Update]{ServerStream: stream})
}

// ChatServiceDesc describes the chat service for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ChatServiceServer.Status),
		unary("StartDM", ChatServiceServer.StartDM),
		unary("Send", ChatServiceServer.Send),
		unary("Edit", ChatServiceServer.Edit),
		unary("DeleteMessage", ChatServiceServer.DeleteMessage),
		unary("MarkRead", ChatServiceServer.MarkRead),
		unary("DeleteConversation", ChatServiceServer.DeleteConversation),
		unary("SetPinned", ChatServiceServer.SetPinned),
		unary("SetArchived", ChatServiceServer.SetArchived),
		unary("ListConversations", ChatServiceServer.ListConversations),
		unary("ListMessages", ChatServiceServer.ListMessages),
		unary("SearchUsers", ChatServiceServer.SearchUsers),
		unary("Select", ChatServiceServer.Select),
		unary("SetTyping", ChatServiceServer.SetTyping),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chat/v1/chat",
}

// ChatServiceClient is the client API for the chat service. Every call is
// sent with the JSON codec.
type ChatServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewChatServiceClient creates a client on top of cc.
func NewChatServiceClient(cc grpc.ClientConnInterface) *ChatServiceClient {
	return &ChatServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *ChatServiceClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, MethodStatus, in, opts)
}

// Connect opens a session. The session lives until the stream ends.
func (c *ChatServiceClient) Connect(ctx context.Context, in *ConnectRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Update], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ChatServiceDesc.Streams[0], MethodConnect, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[ConnectRequest, Update]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *ChatServiceClient) StartDM(ctx context.Context, in *StartDMRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c, MethodStartDM, in, opts)
}

func (c *ChatServiceClient) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c, MethodSend, in, opts)
}

func (c *ChatServiceClient) Edit(ctx context.Context, in *EditRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c, MethodEdit, in, opts)
}

func (c *ChatServiceClient) DeleteMessage(ctx context.Context, in *DeleteMessageRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c, MethodDeleteMessage, in, opts)
}

func (c *ChatServiceClient) MarkRead(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodMarkRead, in, opts)
}

func (c *ChatServiceClient) DeleteConversation(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodDeleteConversation, in, opts)
}

func (c *ChatServiceClient) SetPinned(ctx context.Context, in *FlagRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodSetPinned, in, opts)
}

func (c *ChatServiceClient) SetArchived(ctx context.Context, in *FlagRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodSetArchived, in, opts)
}

func (c *ChatServiceClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c, MethodListConversations, in, opts)
}

func (c *ChatServiceClient) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, MethodListMessages, in, opts)
}

func (c *ChatServiceClient) SearchUsers(ctx context.Context, in *SearchUsersRequest, opts ...grpc.CallOption) (*SearchUsersResponse, error) {
	return invoke[SearchUsersResponse](ctx, c, MethodSearchUsers, in, opts)
}

func (c *ChatServiceClient) Select(ctx context.Context, in *SelectRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodSelect, in, opts)
}

func (c *ChatServiceClient) SetTyping(ctx context.Context, in *SetTypingRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c, MethodSetTyping, in, opts)
}
