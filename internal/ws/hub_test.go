package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/repo/memory"
	wsHub "github.com/hamed0406/downdetector/internal/ws"
)

// --- helpers ----------------------------------------------------------------

func newStore(t *testing.T, snaps ...domain.ServiceSnapshot) *memory.Store {
	t.Helper()
	st := memory.New()
	if len(snaps) > 0 {
		if err := st.CommitBatch(context.Background(), domain.BatchMeta{ID: "seed", Timestamp: time.Now()}, snaps); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func startHub(t *testing.T, st *memory.Store) (string, *wsHub.Hub) {
	t.Helper()
	hub := wsHub.New(st, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesCurrentSnapshots(t *testing.T) {
	wsURL, _ := startHub(t, newStore(t,
		domain.ServiceSnapshot{TargetID: "github", State: domain.Operational},
		domain.ServiceSnapshot{TargetID: "slack", State: domain.Degraded, ConsecutiveFailures: 1},
	))

	m := readMessage(t, dial(t, wsURL))
	if m.Event != "snapshot" || len(m.Snapshots) != 2 {
		t.Fatalf("unexpected greeting: %+v", m)
	}
	if m.Snapshots[1].State != domain.Degraded {
		t.Fatalf("state not carried: %+v", m.Snapshots[1])
	}
}

func TestHub_EmptyStore_EmptySnapshots(t *testing.T) {
	wsURL, _ := startHub(t, newStore(t))
	m := readMessage(t, dial(t, wsURL))
	if m.Event != "snapshot" || m.Snapshots == nil || len(m.Snapshots) != 0 {
		t.Fatalf("want empty snapshot list, got %+v", m)
	}
}

func TestHub_PushesCommittedBatch(t *testing.T) {
	wsURL, hub := startHub(t, newStore(t))
	conn := dial(t, wsURL)
	readMessage(t, conn)

	// Give the hub a moment to register the client.
	time.Sleep(10 * time.Millisecond)
	hub.OnBatch(domain.BatchMeta{ID: "b42", WrittenCount: 1},
		[]domain.ServiceSnapshot{{TargetID: "github", State: domain.MajorOutage}})

	m := readMessage(t, conn)
	if m.Event != "batch" || m.Batch == nil || m.Batch.ID != "b42" {
		t.Fatalf("unexpected push: %+v", m)
	}
	if len(m.Snapshots) != 1 || m.Snapshots[0].State != domain.MajorOutage {
		t.Fatalf("snapshots: %+v", m.Snapshots)
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub := startHub(t, newStore(t))

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Fatalf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close
	if n := hub.Count(); n != 0 {
		t.Fatalf("Count after disconnect: got %d, want 0", n)
	}
}
