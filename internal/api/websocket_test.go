package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocx/aacore/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func TestStatusFeedBroadcastsToConnectedClient(t *testing.T) {
	bus := eventbus.NewLocalBus()
	feed := NewStatusFeed(bus)

	server := httptest.NewServer(http.HandlerFunc(feed.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutines time to register the client before publishing.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), &eventbus.Event{
		Type:   eventbus.EventSessionConnected,
		Source: "test",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got eventbus.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, eventbus.EventSessionConnected, got.Type)
}
