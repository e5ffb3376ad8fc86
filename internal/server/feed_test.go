package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cardroom/settled/internal/settle"
)

func newTestFeed(t *testing.T) (*Feed, *httptest.Server) {
	t.Helper()
	feed := NewFeed(log.New(io.Discard))
	srv := httptest.NewServer(http.HandlerFunc(feed.Handler))
	t.Cleanup(func() {
		feed.Close()
		srv.Close()
	})
	return feed, srv
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *Feed) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Settlements for different hands land concurrently, so events from many
// goroutines must serialize onto each subscriber's connection without
// corrupting or losing frames.
func TestFeedConcurrentBroadcasts(t *testing.T) {
	t.Parallel()

	feed, srv := newTestFeed(t)
	conn := dialFeed(t, srv)

	require.Eventually(t, func() bool {
		return feed.subscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	const (
		broadcasters = 4
		perGoroutine = 25
	)

	var wg sync.WaitGroup
	for g := 0; g < broadcasters; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				feed.OnHandSettled(&settle.Settlement{
					HandID:  "hand",
					TableID: "table-1",
					Pot:     1000,
					Rake:    50,
					Winner:  950,
					Payouts: []settle.Payout{{UserID: "alice", Amount: 950}},
				})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < broadcasters*perGoroutine; i++ {
		var ev feedEvent
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, "settled", ev.Type)
		require.Equal(t, int64(1000), ev.Pot)
		require.Equal(t, []feedPayout{{UserID: "alice", Amount: 950}}, ev.Payouts)
	}

	require.Equal(t, 1, feed.subscriberCount(), "subscriber must survive the burst")
}

func TestFeedDropsClosedSubscriber(t *testing.T) {
	t.Parallel()

	feed, srv := newTestFeed(t)
	conn := dialFeed(t, srv)

	require.Eventually(t, func() bool {
		return feed.subscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return feed.subscriberCount() == 0
	}, time.Second, 10*time.Millisecond)

	// Broadcasting with nobody listening is a no-op, not a panic.
	feed.OnHandCancelled(&settle.Refund{HandID: "hand", TableID: "table-1"})
}

func TestFeedCancelledEvent(t *testing.T) {
	t.Parallel()

	feed, srv := newTestFeed(t)
	conn := dialFeed(t, srv)

	require.Eventually(t, func() bool {
		return feed.subscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	feed.OnHandCancelled(&settle.Refund{
		HandID:  "hand-2",
		TableID: "table-9",
		Refunds: []settle.Payout{
			{UserID: "bob", Amount: 40},
			{UserID: "carol", Amount: 60},
		},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev feedEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "cancelled", ev.Type)
	require.Equal(t, "hand-2", ev.HandID)
	require.Equal(t, []feedPayout{
		{UserID: "bob", Amount: 40},
		{UserID: "carol", Amount: 60},
	}, ev.Refunds)
}
