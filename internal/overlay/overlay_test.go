package overlay

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
)

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+url[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestOverlay_SendsBulletinSnapshotOnConnect(t *testing.T) {
	eventBus := bus.New()
	board := bulletin.New(eventBus)
	board.Update(bulletin.Entry{Agent: "miner", Action: "gather_wood", Health: 18, Food: 20})

	srv := NewServer(eventBus, board, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Topic != "overlay.bulletin.snapshot" {
		t.Fatalf("first frame topic = %q", f.Topic)
	}
	rows, ok := f.Payload.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("payload = %#v", f.Payload)
	}
}

func TestOverlay_StreamsSkillProgress(t *testing.T) {
	eventBus := bus.New()
	srv := NewServer(eventBus, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The subscription is registered inside the handler goroutine; wait for
	// it before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for eventBus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	eventBus.Publish(bus.TopicSkillProgress, bus.SkillProgressEvent{
		Agent: "miner", SkillName: "build_house", Phase: "executing", Progress: 0.5, Active: true,
	})

	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Topic != bus.TopicSkillProgress {
		t.Fatalf("topic = %q", f.Topic)
	}
}

func TestOverlay_ClientCountTracksConnections(t *testing.T) {
	eventBus := bus.New()
	srv := NewServer(eventBus, nil, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, ts.URL)

	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d", got)
	}

	conn.Close(websocket.StatusNormalClosure, "done")
	deadline = time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := srv.ClientCount(); got != 0 {
		t.Fatalf("ClientCount after close = %d", got)
	}
}
