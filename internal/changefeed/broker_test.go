package changefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("tab-1")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeDocumentChanged, Data: map[string]string{"key": "clients"}})

	select {
	case msg := <-ch:
		if msg.Type != TypeDocumentChanged {
			t.Errorf("type = %q", msg.Type)
		}
		if string(msg.Data) != `{"key":"clients"}` {
			t.Errorf("data = %s", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishChange_SkipsOrigin(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	writer := b.Subscribe("tab-a")
	defer b.Unsubscribe(writer)
	other := b.Subscribe("tab-b")
	defer b.Unsubscribe(other)

	b.PublishChange("invoices", "tab-a", false)

	select {
	case msg := <-other:
		if msg.Type != TypeDocumentChanged || !strings.Contains(string(msg.Data), "invoices") {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("other tab did not receive change")
	}

	time.Sleep(50 * time.Millisecond)
	select {
	case msg := <-writer:
		t.Errorf("writing tab received its own change: %+v", msg)
	default:
	}
}

func TestPublishChange_RefreshThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// First change should trigger store.changed.
	b.PublishChange("clients", "", false)
	// Second change immediately should NOT trigger another store.changed.
	b.PublishChange("tasks", "", true)

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	refreshCount, changed, deleted := 0, 0, 0
loop:
	for {
		select {
		case msg := <-ch:
			switch msg.Type {
			case TypeStoreChanged:
				refreshCount++
			case TypeDocumentChanged:
				changed++
			case TypeDocumentDeleted:
				deleted++
			}
		default:
			break loop
		}
	}

	if changed != 1 || deleted != 1 {
		t.Errorf("changed = %d, deleted = %d, want 1 and 1", changed, deleted)
	}
	if refreshCount != 1 {
		t.Errorf("store.changed events = %d, want 1 (throttled)", refreshCount)
	}
}

func countStoreChanged(ch chan Message) int {
	n := 0
	for {
		select {
		case msg := <-ch:
			if msg.Type == TypeStoreChanged {
				n++
			}
		default:
			return n
		}
	}
}

func TestPublishChange_TrailingRefresh(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// A lone change gets the leading signal only.
	b.PublishChange("clients", "", false)
	time.Sleep(250 * time.Millisecond)
	if n := countStoreChanged(ch); n != 1 {
		t.Fatalf("lone change: store.changed events = %d, want 1", n)
	}

	// A burst gets the leading signal plus one at the end of the window.
	b.PublishChange("clients", "", false)
	b.PublishChange("tasks", "", false)
	b.PublishChange("invoices", "", false)
	time.Sleep(20 * time.Millisecond)
	if n := countStoreChanged(ch); n != 1 {
		t.Fatalf("burst: store.changed events before window end = %d, want 1", n)
	}
	time.Sleep(250 * time.Millisecond)
	if n := countStoreChanged(ch); n != 1 {
		t.Errorf("burst: trailing store.changed events = %d, want 1", n)
	}
}

func TestPublishChange_TrailingRefreshOrigin(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	writer := b.Subscribe("tab-1")
	defer b.Unsubscribe(writer)
	other := b.Subscribe("tab-2")
	defer b.Unsubscribe(other)

	b.PublishChange("clients", "tab-1", false)
	b.PublishChange("tasks", "tab-1", false)
	time.Sleep(250 * time.Millisecond)
	if n := countStoreChanged(writer); n != 0 {
		t.Errorf("writer received %d store.changed, want 0", n)
	}
	if n := countStoreChanged(other); n != 2 {
		t.Errorf("other tab received %d store.changed, want 2", n)
	}

	// Suppressed changes from different writers reach everyone.
	b.PublishChange("clients", "tab-2", false)
	b.PublishChange("tasks", "tab-1", false)
	b.PublishChange("invoices", "tab-2", false)
	time.Sleep(250 * time.Millisecond)
	if n := countStoreChanged(writer); n != 2 {
		t.Errorf("mixed burst: tab-1 received %d store.changed, want 2", n)
	}
	if n := countStoreChanged(other); n != 1 {
		t.Errorf("mixed burst: tab-2 received %d store.changed, want 1", n)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?client=tab-1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishChange("clients", "tab-2", false)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.changed") || !strings.Contains(body, `"key":"clients"`) {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestWebSocketHandler(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	srv := httptest.NewServer(http.HandlerFunc(b.ServeWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?client=tab-9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	b.PublishChange("strikes", "tab-1", false)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != TypeDocumentChanged || string(msg.Data) != `{"key":"strikes"}` {
		t.Errorf("message = %+v (%s)", msg, msg.Data)
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for b.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.ClientCount() != 0 {
		t.Errorf("websocket client not cleaned up")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeStoreChanged, Data: map[string]string{}})
	b.PublishChange("clients", "", false)
}
