package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// reconnectDelay paces reconnection attempts after a dropped connection.
const reconnectDelay = 5 * time.Second

// Handler receives the decoded data of one channel event.
type Handler func(data []byte)

// Client maintains a Pusher-protocol websocket connection: channel
// subscriptions are reference counted and replayed after every reconnect,
// and bound handlers are dispatched per (channel, event). A panicking
// handler is recovered and logged; it never takes the connection down.
type Client struct {
	url     string
	machine *Machine
	log     *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     func(ctx context.Context, data []byte) error
	subs     map[string]int
	bindings map[string]map[string]map[int]Handler
	nextBind int
}

// NewClient creates a realtime client for the given websocket URL.
func NewClient(url string, machine *Machine, log *zap.Logger) *Client {
	return &Client{
		url:      url,
		machine:  machine,
		log:      log.Named("realtime"),
		subs:     make(map[string]int),
		bindings: make(map[string]map[string]map[int]Handler),
	}
}

// Subscribe adds a reference to a channel subscription. The first reference
// sends the subscribe frame (immediately if connected, otherwise on the next
// connection). The returned function drops the reference; the last drop
// unsubscribes.
func (c *Client) Subscribe(ctx context.Context, channel string) func() {
	c.mu.Lock()
	c.subs[channel]++
	first := c.subs[channel] == 1
	send := c.send
	c.mu.Unlock()

	if first && send != nil {
		if data, err := subscribeFrame(channel); err == nil {
			if err := send(ctx, data); err != nil {
				c.log.Warn("subscribe frame failed", zap.String("channel", channel), zap.Error(err))
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(channel) })
	}
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	if c.subs[channel] == 0 {
		c.mu.Unlock()
		return
	}
	c.subs[channel]--
	last := c.subs[channel] == 0
	if last {
		delete(c.subs, channel)
	}
	send := c.send
	c.mu.Unlock()

	if last && send != nil {
		if data, err := unsubscribeFrame(channel); err == nil {
			_ = send(context.Background(), data)
		}
	}
}

// Bind registers a handler for one event on one channel and returns its
// unbind function.
func (c *Client) Bind(channel, event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bindings[channel] == nil {
		c.bindings[channel] = make(map[string]map[int]Handler)
	}
	if c.bindings[channel][event] == nil {
		c.bindings[channel][event] = make(map[int]Handler)
	}
	id := c.nextBind
	c.nextBind++
	c.bindings[channel][event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if handlers := c.bindings[channel][event]; handlers != nil {
				delete(handlers, id)
			}
		})
	}
}

// Unbind removes all handlers for one event on one channel.
func (c *Client) Unbind(channel, event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bindings[channel] != nil {
		delete(c.bindings[channel], event)
	}
}

// UnsubscribeAll drops every channel subscription and binding. Used on
// logout.
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.subs = make(map[string]int)
	c.bindings = make(map[string]map[string]map[int]Handler)
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return
	}
	for _, ch := range channels {
		if data, err := unsubscribeFrame(ch); err == nil {
			_ = send(context.Background(), data)
		}
	}
}

// Run connects and processes frames until ctx is cancelled, reconnecting
// after connection loss. Subscriptions survive reconnects.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			_ = c.machine.Transition(Disconnected)
			return err
		}

		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("connection lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			_ = c.machine.Transition(Disconnected)
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	_ = c.machine.Transition(Connecting)

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		_ = c.machine.Transition(Error)
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	c.mu.Lock()
	c.conn = conn
	c.send = func(ctx context.Context, data []byte) error {
		return conn.Write(ctx, websocket.MessageText, data)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if c.machine.Current() == Connected {
				_ = c.machine.Transition(Connecting)
			}
			return err
		}
		c.handleFrame(ctx, data)
	}
}

// handleFrame processes one inbound frame. Split out from the read loop so
// protocol handling is testable without a connection.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch f.Event {
	case evtConnEstablished:
		var est connEstablished
		_ = json.Unmarshal(f.payload(), &est)
		c.log.Info("connection established", zap.String("socket_id", est.SocketID))
		_ = c.machine.Transition(Connected)
		c.resubscribe(ctx)

	case evtPing:
		if err := c.sendFrame(ctx, pongFrame()); err != nil {
			c.log.Warn("pong failed", zap.Error(err))
		}

	case evtError:
		var perr pusherError
		_ = json.Unmarshal(f.payload(), &perr)
		c.log.Warn("server error",
			zap.Int("code", perr.Code),
			zap.String("message", perr.Message))

	case evtSubSucceeded:
		c.log.Debug("subscribed", zap.String("channel", f.Channel))

	default:
		c.dispatch(f.Channel, f.Event, f.payload())
	}
}

func (c *Client) resubscribe(ctx context.Context) {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		data, err := subscribeFrame(ch)
		if err != nil {
			continue
		}
		if err := c.sendFrame(ctx, data); err != nil {
			c.log.Warn("resubscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}
}

func (c *Client) sendFrame(ctx context.Context, data []byte) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return nil
	}
	return send(ctx, data)
}

func (c *Client) dispatch(channel, event string, data []byte) {
	c.mu.Lock()
	var handlers []Handler
	if c.bindings[channel] != nil {
		for _, h := range c.bindings[channel][event] {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.Debug("no handler for event",
			zap.String("channel", channel),
			zap.String("event", event))
		return
	}
	for _, h := range handlers {
		c.invoke(channel, event, h, data)
	}
}

func (c *Client) invoke(channel, event string, h Handler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked",
				zap.String("channel", channel),
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	h(data)
}
