package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events/bus"
)

func newGatewayFixture(t *testing.T) (*Hub, bus.EventBus, *httptest.Server, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eventBus := bus.NewMemoryEventBus(logger.Default())
	hub := NewHub(eventBus, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))

	engine := gin.New()
	engine.GET("/events/stream", hub.HandleStream)
	srv := httptest.NewServer(engine)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		eventBus.Close()
	})
	return hub, eventBus, srv, cancel
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func publish(t *testing.T, eventBus bus.EventBus, eventType, project string) {
	t.Helper()
	event := bus.NewEvent(eventType, "pipeline", map[string]interface{}{"project": project})
	require.NoError(t, eventBus.Publish(context.Background(), "discode.hook."+eventType, event))
}

func readEvent(t *testing.T, conn *websocket.Conn) *bus.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event bus.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return &event
}

func TestStreamReceivesHookEvents(t *testing.T) {
	hub, eventBus, srv, _ := newGatewayFixture(t)
	conn := dialStream(t, srv, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	publish(t, eventBus, "session.idle", "myapp")

	event := readEvent(t, conn)
	assert.Equal(t, "session.idle", event.Type)
	assert.Equal(t, "pipeline", event.Source)
	assert.Equal(t, "myapp", event.Data["project"])
}

func TestStreamProjectFilter(t *testing.T) {
	hub, eventBus, srv, _ := newGatewayFixture(t)
	conn := dialStream(t, srv, "?project=myapp")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	publish(t, eventBus, "tool.activity", "other")
	publish(t, eventBus, "session.idle", "myapp")

	// The first delivered event must be the matching one.
	event := readEvent(t, conn)
	assert.Equal(t, "myapp", event.Data["project"])
	assert.Equal(t, "session.idle", event.Type)
}

func TestCloseAllDisconnectsClients(t *testing.T) {
	hub, _, srv, cancel := newGatewayFixture(t)
	conn := dialStream(t, srv, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
