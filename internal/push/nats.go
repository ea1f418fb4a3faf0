package push

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

// Subject returns the NATS subject carrying notifications for phone.
func Subject(prefix, phone string) string {
	return prefix + "." + model.PhoneDigits(phone)
}

// ConnectNATS connects with reconnect settings suited to a long-running
// daemon or console.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

// Publisher is the part of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bridge republishes conversation.new_message bus events on NATS.
type Bridge struct {
	pub    Publisher
	bus    *bus.Bus
	prefix string
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge creates a bridge publishing under prefix.
func NewBridge(pub Publisher, b *bus.Bus, prefix string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{pub: pub, bus: b, prefix: prefix, logger: logger}
}

// Start subscribes to the bus.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	ch, unsub := br.bus.Subscribe(bus.KindNewMessage, 256)
	br.done = make(chan struct{})

	go func() {
		defer close(br.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				phone, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				stamp := []byte(evt.Timestamp.UTC().Format(time.RFC3339Nano))
				if err := br.pub.Publish(Subject(br.prefix, phone), stamp); err != nil {
					br.logger.Warn("nats publish failed", zap.Error(err), zap.String("phone", phone))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bridge.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
		<-br.done
	}
}

// NATSChannel is a remote.PushChannel over NATS subjects.
type NATSChannel struct {
	nc     *nats.Conn
	prefix string
}

var _ remote.PushChannel = (*NATSChannel)(nil)

func NewNATSChannel(nc *nats.Conn, prefix string) *NATSChannel {
	return &NATSChannel{nc: nc, prefix: prefix}
}

// Subscribe returns once the server has acknowledged the subscription.
func (c *NATSChannel) Subscribe(ctx context.Context, conversation string) (remote.Subscription, error) {
	sub := newSubscription(func() {})
	ns, err := c.nc.Subscribe(Subject(c.prefix, conversation), func(*nats.Msg) {
		sub.notify()
	})
	if err != nil {
		return nil, err
	}
	sub.cancel = func() { _ = ns.Unsubscribe() }
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}
