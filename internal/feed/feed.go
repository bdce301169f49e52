// Package feed ingests the upstream market-data stream over a websocket and
// delivers ticks to the registry. Ordering per event is the upstream
// collaborator's responsibility; delivery here is at-least-once.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/pkg/retrier"
)

const (
	dialTimeout  = 10 * time.Second
	readDeadline = 90 * time.Second
)

// TickRouter receives validated ticks, one call per frame.
type TickRouter interface {
	RouteTick(event string, t domain.Tick)
}

// frame is the wire format of one feed message.
type frame struct {
	EventTicker string `json:"event_ticker"`
	domain.Tick
}

// Client maintains a websocket subscription to the tick feed and reconnects
// with backoff until its context is cancelled.
type Client struct {
	url     string
	router  TickRouter
	logger  *zap.Logger
	retrier *retrier.Retrier
}

// NewClient creates a feed client for the given websocket URL.
func NewClient(url string, router TickRouter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		router: router,
		logger: logger,
		retrier: retrier.New(
			retrier.WithInitialInterval(time.Second),
			retrier.WithMaxInterval(time.Minute),
			retrier.WithMaxRetries(1<<30), // reconnect until cancelled
		),
	}
}

// Run blocks reading the feed until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.readLoop(ctx); err != nil {
			c.logger.Warn("feed connection lost, reconnecting", zap.Error(err))
			return err
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.url)
	}
	defer conn.Close()

	c.logger.Info("feed connected", zap.String("url", c.url))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read frame")
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.logger.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		if f.EventTicker == "" {
			c.logger.Warn("skipping frame without event ticker")
			continue
		}
		if err := f.Tick.Validate(); err != nil {
			c.logger.Warn("skipping bad tick",
				zap.String("event", f.EventTicker),
				zap.Int64("seq", f.Seq),
				zap.Error(err))
			continue
		}

		c.router.RouteTick(f.EventTicker, f.Tick)
	}
}
