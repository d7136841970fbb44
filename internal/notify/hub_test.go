package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrail/internal/models"
)

type fakeBinder struct {
	mu    sync.Mutex
	kind  models.RecordKind
	id    int64
	bound string
}

func (f *fakeBinder) SetSocketID(_ context.Context, kind models.RecordKind, id int64, socketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kind, f.id, f.bound = kind, id, socketID
	return nil
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_ConnectBindAndEmit(t *testing.T) {
	binder := &fakeBinder{}
	hub := NewHub(binder, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dial(t, srv, "kind=payment&id=42")

	hello := readMessage(t, ws)
	assert.Equal(t, "connected", hello.Type)
	require.NotEmpty(t, hello.ConnectionID)

	binder.mu.Lock()
	assert.Equal(t, models.RecordKindPayment, binder.kind)
	assert.Equal(t, int64(42), binder.id)
	assert.Equal(t, hello.ConnectionID, binder.bound)
	binder.mu.Unlock()

	hub.Emit(hello.ConnectionID, "status", map[string]string{"status": "PROCESSING"})

	msg := readMessage(t, ws)
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, hello.ConnectionID, msg.ConnectionID)
	assert.Equal(t, map[string]interface{}{"status": "PROCESSING"}, msg.Data)
	assert.Equal(t, 1, hub.Connections())
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dial(t, srv, "kind=spot&id=7")
	hello := readMessage(t, ws)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool { return hub.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)

	// emitting to a departed connection is a no-op
	hub.Emit(hello.ConnectionID, "status", nil)
	hub.Emit("", "status", nil)
}

func TestHub_RejectsBadQuery(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	for _, q := range []string{"", "kind=ledger&id=1", "kind=payment", "kind=payment&id=-3", "kind=spot&id=x"} {
		resp, err := http.Get(srv.URL + "/ws?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}
