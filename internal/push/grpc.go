// Package push carries "conversation has new messages" notifications from
// smsdeskd to consoles. Notifications carry no message data; receivers
// re-fetch. Two transports exist: a gRPC server stream and NATS subjects.
package push

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/remote"
)

const (
	serviceName = "smsdesk.push.v1.Push"
	watchMethod = "/" + serviceName + "/Watch"
)

// watcher is the server-side contract of the Push service.
type watcher interface {
	Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*watcher)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "smsdesk/push/v1/push.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(watcher).Watch(req, stream)
}

// Server streams new-message notifications for one conversation per Watch
// call. Each notification is the time the message was stored.
type Server struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewServer creates a push server fed by conversation.new_message events.
func NewServer(b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{bus: b, logger: logger}
}

// Register adds the Push service to s.
func Register(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}

// Watch subscribes to the bus, then sends response headers so the client
// knows no later event can be missed, then streams until the client leaves.
func (s *Server) Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	phone := req.GetValue()
	ch, unsub := s.bus.Subscribe(bus.KindNewMessage, 64)
	defer unsub()

	if err := stream.SendHeader(metadata.Pairs("x-smsdesk-watch", phone)); err != nil {
		return err
	}
	s.logger.Debug("push watcher attached", zap.String("phone", phone))
	defer s.logger.Debug("push watcher detached", zap.String("phone", phone))

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			if p, _ := evt.Payload.(string); p != phone {
				continue
			}
			if err := stream.SendMsg(timestamppb.New(evt.Timestamp)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// GRPCChannel is a remote.PushChannel over the Watch stream.
type GRPCChannel struct {
	conn *grpc.ClientConn
}

var _ remote.PushChannel = (*GRPCChannel)(nil)

// Dial connects to a push server at addr.
func Dial(addr string, opts ...grpc.DialOption) (*GRPCChannel, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCChannel{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *GRPCChannel) Close() error {
	return c.conn.Close()
}

// Subscribe opens a Watch stream and returns once the server has subscribed.
func (c *GRPCChannel) Subscribe(ctx context.Context, conversation string) (remote.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(conversation)); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		cancel()
		return nil, err
	}

	sub := newSubscription(cancel)
	go func() {
		defer sub.finish()
		for {
			var ts timestamppb.Timestamp
			if err := stream.RecvMsg(&ts); err != nil {
				return
			}
			sub.notify()
		}
	}()
	return sub, nil
}

// subscription coalesces notifications: at most one is pending at a time,
// since a receiver re-fetches the whole window anyway.
type subscription struct {
	events chan struct{}
	cancel func()

	mu     sync.Mutex
	closed bool
}

func newSubscription(cancel func()) *subscription {
	return &subscription{
		events: make(chan struct{}, 1),
		cancel: cancel,
	}
}

func (s *subscription) Events() <-chan struct{} {
	return s.events
}

func (s *subscription) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- struct{}{}:
	default:
	}
}

// finish closes the events channel once.
func (s *subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *subscription) Close() error {
	s.cancel()
	s.finish()
	return nil
}
