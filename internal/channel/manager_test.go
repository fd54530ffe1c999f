package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/memohai/assistbot/internal/worker"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	mu         sync.Mutex
	handler    InboundHandler
	sent       []OutboundMessage
	processing []string
	connectErr error
	stopped    bool
}

func (a *fakeAdapter) Type() ChannelType { return "fake" }

func (a *fakeAdapter) Connect(_ context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error) {
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
	return NewConnection(cfg, func(context.Context) error {
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
		return nil
	}), nil
}

func (a *fakeAdapter) Send(_ context.Context, _ ChannelConfig, msg OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg)
	return nil
}

func (a *fakeAdapter) ProcessingStarted(_ context.Context, _ ChannelConfig, msg InboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processing = append(a.processing, msg.ID)
	return nil
}

func (a *fakeAdapter) deliver(t *testing.T, msg InboundMessage) {
	t.Helper()
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		t.Fatal("adapter not connected")
	}
	if err := handler(context.Background(), ChannelConfig{ID: "cfg-1", ChannelType: "fake"}, msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func echoProcessor() InboundProcessor {
	return InboundProcessorFunc(func(ctx context.Context, _ ChannelConfig, msg InboundMessage, sender ReplySender) error {
		return sender.Send(ctx, OutboundMessage{Text: msg.Text})
	})
}

func TestManagerRepliesToSourceChat(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	m := NewManager(newTestLogger(), adapter, ChannelConfig{ID: "cfg-1"}, echoProcessor(), ManagerOptions{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.Status().Running {
		t.Fatal("expected running status after start")
	}

	adapter.deliver(t, InboundMessage{ID: "1", ChatID: "42", Sender: Identity{SubjectID: "7"}, Text: "hola"})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 1 || adapter.sent[0].Target != "42" || adapter.sent[0].Text != "hola" {
		t.Fatalf("unexpected sent messages: %#v", adapter.sent)
	}
	if len(adapter.processing) != 1 {
		t.Fatalf("expected typing notification, got %v", adapter.processing)
	}
	if !adapter.stopped {
		t.Fatal("expected connection stop on shutdown")
	}
	if m.Status().Running {
		t.Fatal("expected stopped status after shutdown")
	}
}

func TestManagerKeepsPerUserOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	order := map[string][]string{}
	processor := InboundProcessorFunc(func(_ context.Context, _ ChannelConfig, msg InboundMessage, _ ReplySender) error {
		if msg.Text == "0" {
			time.Sleep(5 * time.Millisecond)
		}
		mu.Lock()
		order[msg.UserKey()] = append(order[msg.UserKey()], msg.Text)
		mu.Unlock()
		return nil
	})
	adapter := &fakeAdapter{}
	m := NewManager(newTestLogger(), adapter, ChannelConfig{}, processor, ManagerOptions{Workers: 4, QueueSize: 32})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 10; i++ {
		for _, user := range []string{"u1", "u2"} {
			adapter.deliver(t, InboundMessage{ChatID: user, Sender: Identity{SubjectID: user}, Text: strconv.Itoa(i)})
		}
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, user := range []string{"u1", "u2"} {
		got := order[user]
		if len(got) != 10 {
			t.Fatalf("user %s: expected 10 messages, got %v", user, got)
		}
		for i, text := range got {
			if text != strconv.Itoa(i) {
				t.Fatalf("user %s out of order: %v", user, got)
			}
		}
	}
}

func TestManagerFullUserQueueDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	handled := make(chan string, 8)
	processor := InboundProcessorFunc(func(_ context.Context, _ ChannelConfig, msg InboundMessage, _ ReplySender) error {
		if msg.ID == "a1" {
			entered <- struct{}{}
			<-release
		}
		handled <- msg.ID
		return nil
	})
	adapter := &fakeAdapter{}
	m := NewManager(newTestLogger(), adapter, ChannelConfig{}, processor, ManagerOptions{Workers: 4, QueueSize: 1})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	cfg := ChannelConfig{ID: "cfg-1", ChannelType: "fake"}
	userA := InboundMessage{ChatID: "a", Sender: Identity{SubjectID: "a"}}
	userB := InboundMessage{ChatID: "b", Sender: Identity{SubjectID: "b"}}

	adapter.deliver(t, withID(userA, "a1"))
	<-entered
	adapter.deliver(t, withID(userA, "a2"))

	results := make(chan error, 2)
	go func() {
		results <- m.HandleInbound(context.Background(), cfg, withID(userA, "a3"))
		results <- m.HandleInbound(context.Background(), cfg, withID(userB, "b1"))
	}()
	for i, wantFull := range []bool{true, false} {
		select {
		case err := <-results:
			if wantFull != errors.Is(err, worker.ErrQueueFull) || (!wantFull && err != nil) {
				t.Fatalf("dispatch %d: unexpected error %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("inbound loop blocked on a full user queue")
		}
	}
	select {
	case id := <-handled:
		if id != "b1" {
			t.Fatalf("expected b1 while a1 is running, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("user b was not handled while user a was busy")
	}

	close(release)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := []string{<-handled, <-handled}; got[0] != "a1" || got[1] != "a2" {
		t.Fatalf("user a out of order: %v", got)
	}
}

func withID(msg InboundMessage, id string) InboundMessage {
	msg.ID = id
	msg.Text = id
	return msg
}

func TestManagerStartFailureIsReported(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{connectErr: errors.New("unauthorized")}
	m := NewManager(newTestLogger(), adapter, ChannelConfig{}, echoProcessor(), ManagerOptions{})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	status := m.Status()
	if status.Running || status.LastError == "" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if status.ChannelType != "fake" {
		t.Fatalf("expected channel type from adapter, got %q", status.ChannelType)
	}
}

func TestManagerRejectsAnonymousMessages(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestLogger(), &fakeAdapter{}, ChannelConfig{}, echoProcessor(), ManagerOptions{})
	if err := m.HandleInbound(context.Background(), ChannelConfig{}, InboundMessage{Text: "hola"}); err == nil {
		t.Fatal("expected error for message without sender or chat")
	}
}

func TestManagerSendRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	m := NewManager(newTestLogger(), &fakeAdapter{}, ChannelConfig{}, echoProcessor(), ManagerOptions{})
	if err := m.Send(context.Background(), OutboundMessage{Target: "1"}); err == nil {
		t.Fatal("expected error for empty message")
	}
}
