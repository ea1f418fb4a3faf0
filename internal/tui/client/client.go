// Package client opens the console's connections to smsdeskd: the REST
// store, the push channel and, when configured, the SMS gateway used for
// read-state mirroring.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/config"
	"github.com/matheus3301/smsdesk/internal/gateway"
	"github.com/matheus3301/smsdesk/internal/push"
	"github.com/matheus3301/smsdesk/internal/remote"
)

const requestTimeout = 15 * time.Second

// Client bundles the remote endpoints the console talks to.
type Client struct {
	Store   *remote.Client
	Push    remote.PushChannel
	Gateway remote.Gateway
	closers []func() error
}

// New connects to the daemon described by cfg. The push channel is dialed
// lazily by gRPC, so New does not fail when the daemon is down.
func New(cfg *config.Config, profileName string, logger *zap.Logger) (*Client, error) {
	c := &Client{
		Store: remote.NewClient(cfg.Console.APIBaseURL, requestTimeout),
	}

	switch cfg.Push.Transport {
	case config.TransportNATS:
		nc, err := push.ConnectNATS(cfg.Push.NATSURL, "smsdesk-console-"+profileName, logger)
		if err != nil {
			return nil, fmt.Errorf("connect push: %w", err)
		}
		c.Push = push.NewNATSChannel(nc, cfg.Push.SubjectPrefix)
		c.closers = append(c.closers, func() error { nc.Close(); return nil })
	default:
		ch, err := push.Dial(cfg.Server.PushAddr)
		if err != nil {
			return nil, fmt.Errorf("dial push: %w", err)
		}
		c.Push = ch
		c.closers = append(c.closers, ch.Close)
	}

	if cfg.Gateway.BaseURL != "" {
		c.Gateway = gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, time.Duration(cfg.Gateway.TimeoutMS)*time.Millisecond)
	}
	return c, nil
}

// Ping asks the daemon for its status.
func (c *Client) Ping(ctx context.Context) (*remote.DaemonStatus, error) {
	return c.Store.Status(ctx)
}

// WaitReady polls the daemon until it answers or ctx expires.
func (c *Client) WaitReady(ctx context.Context, every time.Duration) error {
	for {
		pctx, cancel := context.WithTimeout(ctx, every)
		_, err := c.Ping(pctx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon not ready: %w", errors.Join(ctx.Err(), err))
		case <-time.After(every):
		}
	}
}

func (c *Client) Close() error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
