package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/cardroom/settled/internal/settle"
)

// feedEvent is one message on the settlement feed.
type feedEvent struct {
	Type      string       `json:"type"` // "settled" or "cancelled"
	HandID    string       `json:"handId"`
	TableID   string       `json:"tableId"`
	Pot       int64        `json:"pot,omitempty"`
	Rake      int64        `json:"rake,omitempty"`
	Treasury  int64        `json:"treasury,omitempty"`
	Jackpot   int64        `json:"jackpot,omitempty"`
	Unclaimed int64        `json:"unclaimed,omitempty"`
	Payouts   []feedPayout `json:"payouts,omitempty"`
	Refunds   []feedPayout `json:"refunds,omitempty"`
}

type feedPayout struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

const (
	// Buffered events per subscriber; a subscriber that falls this far
	// behind is dropped rather than allowed to stall settlements.
	subscriberBuffer = 256

	// Time allowed to write one event to a subscriber.
	feedWriteWait = 10 * time.Second
)

// subscriber is one feed connection. All writes to conn happen on its
// write pump goroutine, which drains send; handlers only enqueue.
type subscriber struct {
	conn *websocket.Conn
	send chan feedEvent
}

// Feed broadcasts settlement outcomes to websocket subscribers, for ops
// dashboards watching rake and pool activity live. It implements
// SettlementMonitor; dropped or slow connections are pruned.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu   sync.Mutex
	subs map[*subscriber]bool
}

// NewFeed creates a settlement feed.
func NewFeed(logger *log.Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The feed binds on an internal address only.
				return true
			},
		},
		logger: logger.WithPrefix("feed"),
		subs:   make(map[*subscriber]bool),
	}
}

// Handler upgrades the request and subscribes the connection to the feed.
func (f *Feed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan feedEvent, subscriberBuffer),
	}

	f.mu.Lock()
	f.subs[sub] = true
	total := len(f.subs)
	f.mu.Unlock()
	f.logger.Info("subscriber connected", "total", total)

	go f.writePump(sub)

	// Subscribers don't send anything; the read loop just detects close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(sub)
				return
			}
		}
	}()
}

// writePump is the sole writer on a subscriber's connection. It exits when
// the send channel is closed by drop or when a write fails.
func (f *Feed) writePump(sub *subscriber) {
	defer func() { _ = sub.conn.Close() }()

	for ev := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := sub.conn.WriteJSON(ev); err != nil {
			f.logger.Debug("dropping subscriber", "error", err)
			f.drop(sub)
			return
		}
	}
	_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// drop unregisters a subscriber. The membership check under the lock makes
// the send-channel close exactly-once no matter which path loses the race.
func (f *Feed) drop(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[sub] {
		delete(f.subs, sub)
		close(sub.send)
		f.logger.Info("subscriber disconnected", "total", len(f.subs))
	}
}

// broadcast enqueues an event for every subscriber. Enqueueing never blocks:
// a subscriber whose buffer is full is dropped instead of stalling the
// settlement path.
func (f *Feed) broadcast(ev feedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.send <- ev:
		default:
			f.logger.Warn("subscriber send buffer full, dropping")
			delete(f.subs, sub)
			close(sub.send)
		}
	}
}

// OnHandSettled implements SettlementMonitor.
func (f *Feed) OnHandSettled(s *settle.Settlement) {
	ev := feedEvent{
		Type:      "settled",
		HandID:    s.HandID,
		TableID:   s.TableID,
		Pot:       s.Pot,
		Rake:      s.Rake,
		Treasury:  s.Treasury,
		Jackpot:   s.Jackpot,
		Unclaimed: s.Unclaimed,
	}
	for _, p := range s.Payouts {
		ev.Payouts = append(ev.Payouts, feedPayout{UserID: p.UserID, Amount: p.Amount})
	}
	f.broadcast(ev)
}

// OnHandCancelled implements SettlementMonitor.
func (f *Feed) OnHandCancelled(r *settle.Refund) {
	ev := feedEvent{
		Type:    "cancelled",
		HandID:  r.HandID,
		TableID: r.TableID,
	}
	for _, p := range r.Refunds {
		ev.Refunds = append(ev.Refunds, feedPayout{UserID: p.UserID, Amount: p.Amount})
	}
	f.broadcast(ev)
}

// Close disconnects all subscribers.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.send)
	}
}
