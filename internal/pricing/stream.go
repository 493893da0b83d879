package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// DefaultStreamURL is the exchange websocket base.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws"

// StreamConfig configures StreamCollector behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default websocket configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// StreamCollector stores closed 1m candles pushed over websocket.
type StreamCollector struct {
	url    string
	config StreamConfig
	store  storage.PriceStore
	logger *zerolog.Logger
}

// NewStreamCollector creates a collector for symbol on baseURL.
func NewStreamCollector(baseURL, symbol string, store storage.PriceStore, config *StreamConfig, logger *zerolog.Logger) *StreamCollector {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	return &StreamCollector{
		url:    strings.TrimRight(baseURL, "/") + "/" + strings.ToLower(symbol) + "@kline_1m",
		config: cfg,
		store:  store,
		logger: logging.OrGlobal(logger),
	}
}

// Run reads the stream until ctx is cancelled, reconnecting with
// exponential backoff. Always returns ctx.Err().
func (c *StreamCollector) Run(ctx context.Context) error {
	delay := c.config.ReconnectDelay
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = c.config.ReconnectDelay
		}
		c.logger.Warn().Err(err).Dur("reconnect_in", delay).Msg("kline stream disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *StreamCollector) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	c.logger.Info().Str("url", c.url).Msg("kline stream connected")

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()
	go c.pingLoop(conn, &writeMu, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if err := c.handleMessage(ctx, message); err != nil {
			c.logger.Error().Err(err).Msg("kline message not stored")
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *StreamCollector) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				// reader sees the broken connection
				return
			}
		}
	}
}

// handleMessage stores the candle when it is closed. Open candles are ignored.
func (c *StreamCollector) handleMessage(ctx context.Context, message []byte) error {
	price, ok, err := parseStreamKline(message)
	if err != nil || !ok {
		return err
	}
	if err := c.store.UpsertBulk(ctx, []*domain.QuotePrice{price}); err != nil {
		return fmt.Errorf("store price %s: %w", price.Minute.Format(time.RFC3339), err)
	}
	observability.RecordQuotePrices("stream", 1)
	return nil
}

type streamEvent struct {
	Event string `json:"e"`
	Kline struct {
		OpenTime int64  `json:"t"`
		Close    string `json:"c"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// parseStreamKline returns the closed candle in message. ok is false for
// open candles and other events.
func parseStreamKline(message []byte) (price *domain.QuotePrice, ok bool, err error) {
	var ev streamEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return nil, false, fmt.Errorf("unmarshal stream event: %w", err)
	}
	if ev.Event != "kline" || !ev.Kline.Closed {
		return nil, false, nil
	}
	p, err := decimal.NewFromString(ev.Kline.Close)
	if err != nil {
		return nil, false, fmt.Errorf("kline close %q: %w", ev.Kline.Close, err)
	}
	return &domain.QuotePrice{
		Minute:   domain.Minute(time.UnixMilli(ev.Kline.OpenTime)),
		PriceUSD: p,
	}, true, nil
}
