package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ===============================================================================
// Live tick stream
// ===============================================================================

// Tick is one price update from the broker feed.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

type streamMessage struct {
	Type    string  `json:"type,omitempty"`
	Op      string  `json:"op,omitempty"`
	Symbol  string  `json:"symbol,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Ts      int64   `json:"ts,omitempty"`
	Code    int     `json:"code,omitempty"`
	Message string  `json:"msg,omitempty"`
}

// Stream maintains a websocket session to the broker feed. It keeps the latest
// tick per symbol, reconnects with backoff and restores subscriptions after a
// drop.
type Stream struct {
	url   string
	token string

	mu             sync.RWMutex
	conn           *websocket.Conn
	running        bool
	reconnecting   bool
	reconnectCount int
	maxReconnect   int
	subscriptions  map[string]bool
	closeCh        chan struct{}

	writeMu sync.Mutex

	ticks    sync.Map // symbol -> Tick
	handlers []func(Tick)
}

func NewStream(url, token string) *Stream {
	return &Stream{
		url:           url,
		token:         token,
		maxReconnect:  10,
		subscriptions: make(map[string]bool),
	}
}

// Connect dials the feed. Safe to call again on an open session.
func (s *Stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && s.conn != nil {
		return nil
	}

	log.Printf("connecting stream %s", s.url)
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("stream dial: %w", err)
	}

	if s.closeCh != nil {
		select {
		case <-s.closeCh:
		default:
			close(s.closeCh)
		}
	}
	s.closeCh = make(chan struct{})
	s.conn = conn
	s.running = true
	s.reconnectCount = 0

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	if s.token != "" {
		if err := s.writeJSON(map[string]any{"op": "auth", "token": s.token}); err != nil {
			return fmt.Errorf("stream auth: %w", err)
		}
	}

	go s.readLoop(s.closeCh)
	go s.keepAlive(s.closeCh)
	return nil
}

// Subscribe registers symbols for tick delivery. Subscriptions survive
// reconnects.
func (s *Stream) Subscribe(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	for _, sym := range symbols {
		s.subscriptions[sym] = true
	}
	return s.writeJSON(map[string]any{"op": "subscribe", "symbols": symbols})
}

// SubmitOrder sends an order request over the session.
func (s *Stream) SubmitOrder(symbol, side string, quantity int) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return s.writeJSON(map[string]any{
		"op": "order", "symbol": symbol, "side": side, "qty": quantity,
	})
}

// OnTick registers a handler invoked for every inbound tick.
func (s *Stream) OnTick(handler func(Tick)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// LastTick returns the latest tick seen for a symbol.
func (s *Stream) LastTick(symbol string) (Tick, bool) {
	v, ok := s.ticks.Load(symbol)
	if !ok {
		return Tick{}, false
	}
	return v.(Tick), true
}

// LastClose lets the stream stand in as a quote source once ticks flow.
func (s *Stream) LastClose(symbol string) (float64, bool) {
	t, ok := s.LastTick(symbol)
	return t.Price, ok
}

func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.conn != nil
}

func (s *Stream) readLoop(closeCh <-chan struct{}) {
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		running := s.running
		s.mu.RUnlock()
		if !running || conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.conn != nil {
				_ = s.conn.Close()
				s.conn = nil
			}
			stillRunning := s.running
			s.mu.Unlock()
			if stillRunning {
				go s.reconnect()
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(raw []byte) {
	var m streamMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	switch m.Type {
	case "tick":
		t := Tick{Symbol: m.Symbol, Price: m.Price, Ts: m.Ts}
		s.ticks.Store(t.Symbol, t)
		s.mu.RLock()
		hs := append([]func(Tick){}, s.handlers...)
		s.mu.RUnlock()
		for _, h := range hs {
			h(t)
		}
	case "error":
		log.Printf("stream error %d: %s", m.Code, m.Message)
	}
}

func (s *Stream) keepAlive(closeCh <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			running := s.running
			s.mu.RUnlock()
			if !running || conn == nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, deadline)
			s.writeMu.Unlock()
			if err != nil {
				log.Printf("stream ping failed: %v", err)
				go s.reconnect()
				return
			}
		case <-closeCh:
			return
		}
	}
}

func (s *Stream) reconnect() {
	s.mu.Lock()
	if !s.running || s.reconnecting || s.reconnectCount >= s.maxReconnect {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.reconnectCount++
	subs := make([]string, 0, len(s.subscriptions))
	for sym := range s.subscriptions {
		subs = append(subs, sym)
	}
	attempt := s.reconnectCount
	s.mu.Unlock()

	delay := time.Duration(attempt) * 2 * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	log.Printf("stream reconnect %d in %v", attempt, delay)
	time.Sleep(delay)

	if err := s.Connect(); err != nil {
		log.Printf("stream reconnect failed: %v", err)
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		return
	}
	if len(subs) > 0 {
		if err := s.Subscribe(subs); err != nil {
			log.Printf("stream resubscribe failed: %v", err)
		}
	}
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
}

// Close shuts the session down and stops reconnecting.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.closeCh != nil {
		select {
		case <-s.closeCh:
		default:
			close(s.closeCh)
		}
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) writeJSON(v any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}
