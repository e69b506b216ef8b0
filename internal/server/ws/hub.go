package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayLimit caps the receipts replayed to one connecting client.
	replayLimit = 500

	// replayPage is the receipt stream page size read during replay.
	replayPage = 200

	// replayTimeout bounds the receipt stream reads of one replay.
	replayTimeout = 10 * time.Second
)

// Frame encodings a client may ask for.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gauge tracks the number of connected clients.
type Gauge interface {
	Inc()
	Dec()
}

// frame is one outgoing WebSocket message.
type frame struct {
	kind int
	data []byte
}

// client represents a single WebSocket connection. An empty contracts or
// actions filter matches everything.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan frame
	mu        sync.RWMutex
	contracts map[common.Address]bool
	actions   map[string]bool
	encoding  string
}

// subscribeMsg is the JSON message a client sends to narrow its stream.
//
//	{"action":"subscribe","contracts":["0x.."],"actions":["update_phase"],"encoding":"proto"}
type subscribeMsg struct {
	Action    string           `json:"action"` // "subscribe" or "unsubscribe"
	Contracts []common.Address `json:"contracts"`
	Actions   []string         `json:"actions"`
	Encoding  string           `json:"encoding"`
}

// envelope wraps every JSON frame.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages a set of connected WebSocket clients and broadcasts committed
// ledger events from the signal bus to the clients whose filter matches.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.LedgerEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	height     func() uint64
	gauge      Gauge
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// Config captures runtime metadata used in the status frame sent on connect.
type Config struct {
	Height    func() uint64
	Gauge     Gauge
	StartedAt time.Time
}

// NewHub creates a new WebSocket hub that bridges the SignalBus ledger event
// channel to connected WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	height := cfg.Height
	if height == nil {
		height = func() uint64 { return 0 }
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.LedgerEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		height:     height,
		gauge:      cfg.Gauge,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if h.gauge != nil {
				h.gauge.Inc()
			}
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				if h.gauge != nil {
					h.gauge.Dec()
				}
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

// fanout encodes ev at most once per encoding and queues it for every
// matching client.
func (h *Hub) fanout(ev domain.LedgerEvent) {
	encoded := map[string]frame{}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(ev) {
			continue
		}
		enc := c.currentEncoding()
		f, ok := encoded[enc]
		if !ok {
			var err error
			if f, err = encodeEvent(ev, enc); err != nil {
				h.logger.Warn("ws: encode event failed",
					slog.String("encoding", enc),
					slog.String("error", err.Error()),
				)
				continue
			}
			encoded[enc] = f
		}
		select {
		case c.send <- f:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// subscribe forwards ledger events from the signal bus into the broadcast
// channel.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelLedgerEvents)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", domain.ChannelLedgerEvents),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.ChannelLedgerEvents))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.ChannelLedgerEvents),
				)
				return
			}
			var ev domain.LedgerEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: malformed ledger event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Query parameters:
//
//	encoding     initial frame encoding ("json" or "proto")
//	contracts    comma separated contract filter
//	actions      comma separated action filter
//	since_height replay retained receipts above this height before live events
//
// Replayed frames are written before the write pump starts, so they always
// precede live frames. A receipt committed while the replay runs may be sent
// twice; receipt_id identifies it.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, replay := uint64(0), false
	if raw := q.Get("since_height"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "since_height must be an unsigned integer", http.StatusBadRequest)
			return
		}
		since, replay = v, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan frame, sendBufferSize),
		contracts: make(map[common.Address]bool),
		actions:   make(map[string]bool),
		encoding:  normaliseEncoding(q.Get("encoding")),
	}
	for _, a := range splitList(q.Get("contracts")) {
		if common.IsHexAddress(a) {
			c.contracts[common.HexToAddress(a)] = true
		}
	}
	for _, a := range splitList(q.Get("actions")) {
		c.actions[a] = true
	}

	if err := c.write(c.statusFrame()); err != nil {
		conn.Close()
		return
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	if replay {
		ctx, cancel := context.WithTimeout(r.Context(), replayTimeout)
		if err := c.replay(ctx, since); err != nil {
			h.logger.Warn("ws: receipt replay failed",
				slog.Uint64("since_height", since),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	go c.writePump()
	go c.readPump()
}

// replay writes the events of every retained receipt above since straight
// to the connection, then a ledger_replayed frame. It must run before the
// write pump starts.
func (c *client) replay(ctx context.Context, since uint64) error {
	var (
		last      = "0"
		receipts  int
		events    int
		truncated bool
	)
scan:
	for {
		msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamReceipts, last, replayPage)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			last = m.ID
			var rc domain.Receipt
			if err := json.Unmarshal(m.Payload, &rc); err != nil {
				c.hub.logger.Warn("ws: malformed receipt in stream",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if rc.Height <= since {
				continue
			}
			if receipts == replayLimit {
				truncated = true
				break scan
			}
			receipts++
			for _, e := range rc.Events {
				ev := domain.LedgerEvent{ReceiptID: rc.ID, Height: rc.Height, Event: e}
				if !c.matches(ev) {
					continue
				}
				f, err := encodeEvent(ev, c.currentEncoding())
				if err != nil {
					return err
				}
				if err := c.write(f); err != nil {
					return err
				}
				events++
			}
		}
		if len(msgs) < replayPage {
			break
		}
	}

	data, err := json.Marshal(envelope{
		Type: "ledger_replayed",
		Payload: map[string]any{
			"since_height": since,
			"receipts":     receipts,
			"events":       events,
			"truncated":    truncated,
		},
	})
	if err != nil {
		return err
	}
	return c.write(frame{kind: websocket.TextMessage, data: data})
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normaliseEncoding(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), EncodingProto) {
		return EncodingProto
	}
	return EncodingJSON
}

// encodeEvent renders ev as a JSON text frame or a protobuf Struct binary
// frame.
func encodeEvent(ev domain.LedgerEvent, encoding string) (frame, error) {
	data, err := json.Marshal(envelope{Type: "ledger_event", Payload: ev})
	if err != nil {
		return frame{}, err
	}
	if encoding != EncodingProto {
		return frame{kind: websocket.TextMessage, data: data}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return frame{}, err
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return frame{}, err
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, err
	}
	return frame{kind: websocket.BinaryMessage, data: bin}, nil
}

// readPump reads subscription requests from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription updates the client's filter and encoding.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Encoding != "" {
		c.encoding = normaliseEncoding(msg.Encoding)
	}
	switch msg.Action {
	case "subscribe":
		for _, a := range msg.Contracts {
			c.contracts[a] = true
		}
		for _, a := range msg.Actions {
			c.actions[a] = true
		}
	case "unsubscribe":
		for _, a := range msg.Contracts {
			delete(c.contracts, a)
		}
		for _, a := range msg.Actions {
			delete(c.actions, a)
		}
	}
}

// matches reports whether ev passes the client's filter.
func (c *client) matches(ev domain.LedgerEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.contracts) > 0 && !c.contracts[ev.Contract] {
		return false
	}
	if len(c.actions) > 0 && !c.actions[ev.Action] {
		return false
	}
	return true
}

func (c *client) currentEncoding() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoding
}

// statusFrame reports the current height so clients learn it before any
// event arrives.
func (c *client) statusFrame() frame {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, _ := json.Marshal(envelope{
		Type: "ledger_status",
		Payload: map[string]any{
			"height":         c.hub.height(),
			"uptime_seconds": uptime,
			"encoding":       c.currentEncoding(),
		},
	})
	return frame{kind: websocket.TextMessage, data: msg}
}

// write sends f directly. Only valid before writePump starts.
func (c *client) write(f frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(f.kind, f.data)
}

// writePump pumps frames from the hub to the WebSocket connection and sends
// periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
