package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshtrust/trustd/internal/custom"
)

func addr(n int) string {
	return fmt.Sprintf("0x%040d", n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticScores(final float64) ScoreSource {
	return func(_ context.Context, wallet, appID string) (*custom.CompositeTrustScore, error) {
		return &custom.CompositeTrustScore{
			Wallet:     wallet,
			AppID:      appID,
			FinalScore: final,
			Timestamp:  time.Now().UTC(),
		}, nil
	}
}

func startHub(t *testing.T, scores ScoreSource, interval time.Duration) (*Hub, string) {
	t.Helper()

	hub := NewHub(discardLogger(), scores, interval, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_QuerySubscriptionReceivesScores(t *testing.T) {
	_, url := startHub(t, staticScores(0.57), 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?wallet="+addr(1)+"&app_id=app-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, MessageSubscribed, msg.Type)

	msg = readMessage(t, conn)
	require.Equal(t, MessageScoreUpdate, msg.Type)

	payload, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var score custom.CompositeTrustScore
	require.NoError(t, json.Unmarshal(payload, &score))
	assert.Equal(t, addr(1), score.Wallet)
	assert.Equal(t, "app-1", score.AppID)
	assert.InDelta(t, 0.57, score.FinalScore, 1e-9)
}

func TestHub_SubscriptionFrame(t *testing.T) {
	_, url := startHub(t, staticScores(0.8), 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sub := Subscription{Wallet: addr(2), AppID: "app-2"}
	require.NoError(t, conn.WriteJSON(sub))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageSubscribed, msg.Type)

	msg = readMessage(t, conn)
	assert.Equal(t, MessageScoreUpdate, msg.Type)
}

func TestHub_InvalidSubscriptionRejected(t *testing.T) {
	_, url := startHub(t, staticScores(0.8), time.Hour)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"wallet":"not-an-address","appId":"app-1"}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Error, "wallet")
}

func TestHub_ScoreErrorDegradesToErrorFrame(t *testing.T) {
	failing := func(context.Context, string, string) (*custom.CompositeTrustScore, error) {
		return nil, fmt.Errorf("store down")
	}
	_, url := startHub(t, failing, 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?wallet="+addr(1)+"&app_id=app-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	require.Equal(t, MessageSubscribed, msg.Type)

	msg = readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "score unavailable", msg.Error)
}

func TestHub_UnsubscribedClientGetsNoScores(t *testing.T) {
	hub, url := startHub(t, staticScores(0.8), 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err) // deadline, nothing pushed

	stats := hub.Stats()
	assert.Equal(t, int64(0), stats["totalPushes"])
}

func TestHub_StatsTrackClients(t *testing.T) {
	hub, url := startHub(t, staticScores(0.8), time.Hour)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"] == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"] == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), hub.Stats()["totalClients"])
}

func TestHub_RejectsUpgradeAfterShutdown(t *testing.T) {
	hub := NewHub(discardLogger(), staticScores(0.8), time.Hour, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClient_EnqueueAfterCloseIsSafe(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}

	assert.True(t, c.enqueue([]byte(`{}`)))
	assert.False(t, c.enqueue([]byte(`{}`))) // buffer full

	c.closeSend()
	assert.False(t, c.enqueue([]byte(`{}`)))
	c.closeSend() // idempotent
}

func TestHub_FrameAfterEvictionKeepsServing(t *testing.T) {
	hub, url := startHub(t, staticScores(0.8), time.Hour)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?wallet="+addr(1)+"&app_id=app-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"] == 1
	}, time.Second, 10*time.Millisecond)

	// Drop the client the way the slow-client path does.
	hub.mu.Lock()
	for client := range hub.clients {
		client.closeSend()
		delete(hub.clients, client)
	}
	hub.mu.Unlock()

	// A frame arriving after eviction is dropped, not sent on the closed
	// channel. The write may race the server-side close, so its error is
	// irrelevant here.
	_ = conn.WriteJSON(Subscription{Wallet: addr(2), AppID: "app-2"})
	time.Sleep(50 * time.Millisecond)

	// The hub still serves new connections.
	conn2, _, err := websocket.DefaultDialer.Dial(url+"?wallet="+addr(3)+"&app_id=app-1", nil)
	require.NoError(t, err)
	defer conn2.Close()
	msg := readMessage(t, conn2)
	assert.Equal(t, MessageSubscribed, msg.Type)
}

func TestHub_UpgradeDuringShutdownReleasesHandler(t *testing.T) {
	// Run is never started, so the register channel has no consumer; the
	// handler must bail out once done closes instead of blocking on it.
	hub := NewHub(discardLogger(), staticScores(0.8), time.Hour, 30*time.Second)

	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r)
		close(handlerDone)
	}))
	defer srv.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(hub.done)
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after shutdown")
	}
}
