package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSEHub_publishDeliversToSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.PublishJSON(map[string]any{"type": "test"})

	select {
	case msg := <-ch:
		if string(msg) != `{"type":"test"}` {
			t.Fatalf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSSEHub_unsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestSSEHub_slowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for i := 0; i < 300; i++ {
		hub.PublishJSON(map[string]any{"i": i})
	}
}

func TestSSEHub_handlerSendsInitialConnectedEvent(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/runs/watch", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		hub.Handler()(rec, req)
		close(done)
	}()
	<-done

	body := rec.Body.String()
	if body == "" {
		t.Fatal("expected at least the initial connected event to be written")
	}
}
