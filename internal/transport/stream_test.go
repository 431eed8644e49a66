package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/finkor/brokergate/internal/provider"
	"github.com/finkor/brokergate/pkg/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []provider.Event
}

func (r *eventRecorder) sink(ev provider.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) at(i int) provider.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

var upgrader = websocket.Upgrader{}

func streamServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamClient_DeliversFrames(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{
			Type:   string(provider.EventTick),
			Symbol: "005930",
			Quote:  &models.Quote{Symbol: "005930", Price: decimal.NewFromInt(70000)},
		})
		conn.WriteJSON(Frame{
			Type:   string(provider.EventOrderBook),
			Symbol: "005930",
			Book:   &models.OrderBook{Symbol: "005930"},
		})
		// Hold the connection open until the client walks away.
		conn.ReadMessage()
	})

	rec := &eventRecorder{}
	client := NewStreamClient(wsURL(srv), rec.sink, zaptest.NewLogger(t))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	first := rec.at(0)
	assert.Equal(t, provider.EventTick, first.Type)
	assert.Equal(t, "005930", first.Symbol)
	assert.True(t, first.Tick.Price.Equal(decimal.NewFromInt(70000)))
	assert.Equal(t, provider.EventOrderBook, rec.at(1).Type)
}

func TestStreamClient_SkipsMalformedFrames(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(Frame{Type: "mystery", Symbol: "005930"})
		conn.WriteJSON(Frame{
			Type:   string(provider.EventTick),
			Symbol: "005930",
			Quote:  &models.Quote{Symbol: "005930"},
		})
		conn.ReadMessage()
	})

	rec := &eventRecorder{}
	client := NewStreamClient(wsURL(srv), rec.sink, zaptest.NewLogger(t))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, provider.EventTick, rec.at(0).Type)
}

func TestStreamClient_SendAndClose(t *testing.T) {
	received := make(chan Frame, 1)
	srv := streamServer(t, func(conn *websocket.Conn) {
		var frame Frame
		if err := conn.ReadJSON(&frame); err == nil {
			received <- frame
		}
		conn.ReadMessage()
	})

	client := NewStreamClient(wsURL(srv), func(provider.Event) {}, zaptest.NewLogger(t))
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Send(Frame{Type: "subscribe", Symbol: "005930"}))
	select {
	case frame := <-received:
		assert.Equal(t, "subscribe", frame.Type)
		assert.Equal(t, "005930", frame.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	require.NoError(t, client.Close())
	err := client.Send(Frame{Type: "subscribe"})
	require.Error(t, err)
}

func TestStreamClient_ReconnectReplaysSubscriptions(t *testing.T) {
	var connects int32
	var mu sync.Mutex
	srv := streamServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		connects++
		mu.Unlock()
		conn.ReadMessage()
	})

	replayed := make(chan struct{}, 1)
	client := NewStreamClient(wsURL(srv), func(provider.Event) {}, zaptest.NewLogger(t))
	client.OnReconnect = func(ctx context.Context) error {
		select {
		case replayed <- struct{}{}:
		default:
		}
		return nil
	}
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.Reconnect(context.Background()))
	select {
	case <-replayed:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook never ran")
	}
	mu.Lock()
	assert.GreaterOrEqual(t, connects, int32(2))
	mu.Unlock()
}
