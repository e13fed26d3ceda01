package exchange

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PriceSink receives mark prices from the stream, normally the Redis cache
type PriceSink interface {
	SetMarkPrice(ctx context.Context, symbol string, price float64) error
}

// MarkPriceStream subscribes to the Binance futures mark-price WebSocket for
// one symbol and pushes updates into a PriceSink. Cycles read the cached
// price first and fall back to REST when the cache is stale.
type MarkPriceStream struct {
	mu sync.RWMutex

	symbol    string
	sink      PriceSink
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	baseURL   string
	lastPrice float64
	lastTime  time.Time
}

// markPriceEvent is the markPriceUpdate payload
type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// NewMarkPriceStream creates a mark-price stream for one symbol
func NewMarkPriceStream(symbol string, sink PriceSink, testnet bool) *MarkPriceStream {
	baseURL := "wss://fstream.binance.com"
	if testnet {
		baseURL = "wss://stream.binancefuture.com"
	}
	return &MarkPriceStream{
		symbol:   symbol,
		sink:     sink,
		baseURL:  baseURL,
		stopChan: make(chan struct{}),
	}
}

// Start begins the stream connection
func (s *MarkPriceStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connect()
	log.Printf("[MARK-PRICE-STREAM] Started for %s", s.symbol)
}

// Stop stops the stream
func (s *MarkPriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}
	log.Printf("[MARK-PRICE-STREAM] Stopped")
}

// LastPrice returns the most recent in-process price and its age
func (s *MarkPriceStream) LastPrice() (float64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPrice, s.lastTime
}

// connect establishes the WebSocket connection with reconnect on loss.
// The @markPrice@1s stream pushes one update per second.
func (s *MarkPriceStream) connect() {
	wsURL := s.baseURL + "/ws/" + strings.ToLower(s.symbol) + "@markPrice@1s"

	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			log.Printf("[MARK-PRICE-STREAM] Connection failed: %v, retrying in 5s", err)
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-s.stopChan:
				return
			}
		}

		s.mu.Lock()
		s.wsConn = conn
		s.mu.Unlock()

		log.Printf("[MARK-PRICE-STREAM] Connected for %s", s.symbol)
		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()
		if !isRunning {
			return
		}

		log.Printf("[MARK-PRICE-STREAM] Connection lost, reconnecting in 3s")
		select {
		case <-time.After(3 * time.Second):
		case <-s.stopChan:
			return
		}
	}
}

// readLoop reads messages until the connection drops
func (s *MarkPriceStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[MARK-PRICE-STREAM] Read error: %v", err)
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *MarkPriceStream) handleMessage(message []byte) {
	var event markPriceEvent
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("[MARK-PRICE-STREAM] Failed to parse event: %v", err)
		return
	}
	if event.EventType != "markPriceUpdate" || event.Symbol != s.symbol {
		return
	}

	price, err := strconv.ParseFloat(event.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	s.mu.Lock()
	s.lastPrice = price
	s.lastTime = time.Now()
	s.mu.Unlock()

	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.sink.SetMarkPrice(ctx, s.symbol, price); err != nil {
			log.Printf("[MARK-PRICE-STREAM] Failed to cache price: %v", err)
		}
	}
}
