package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/smazurov/shellkeeper/internal/events"
	"github.com/smazurov/shellkeeper/internal/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// runServer starts an embedded NATS server on a random port.
func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("Failed to create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server failed to start within 5 seconds")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestSubjectBackendEvent(t *testing.T) {
	tests := map[string]string{
		"backend-state-changed":     "shellkeeper.backend.state_changed",
		"backend-restart-scheduled": "shellkeeper.backend.restart_scheduled",
		"backend-ready":             "shellkeeper.backend.ready",
	}
	for name, want := range tests {
		if got := SubjectBackendEvent(name); got != want {
			t.Errorf("SubjectBackendEvent(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPublisherGracefulDegradation(t *testing.T) {
	bus := events.New()
	p := NewPublisher("nats://127.0.0.1:59999", bus, testLogger())

	if err := p.Connect(); err == nil {
		t.Error("Connect should fail with non-existent server")
	}
	if p.IsConnected() {
		t.Error("Publisher should not be connected")
	}

	// Should be a no-op without panicking
	bus.Publish(events.BackendReadyEvent{SessionID: "s"})
	p.publish(SubjectBackendEvent("backend-ready"), events.BackendReadyEvent{})
	p.Close()
}

func TestPublisherForwardsEvents(t *testing.T) {
	ns := runServer(t)
	bus := events.New()

	p := NewPublisher(ns.ClientURL(), bus, testLogger())
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer p.Close()

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe(SubjectBackendPrefix+".>", msgs); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	bus.Publish(events.BackendCrashedEvent{SessionID: "abc", PID: 42, ExitCode: 1})

	select {
	case msg := <-msgs:
		if msg.Subject != "shellkeeper.backend.crashed" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var got events.BackendCrashedEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.PID != 42 || got.SessionID != "abc" {
			t.Errorf("payload = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not forwarded")
	}
}

func TestPublisherCloseStopsForwarding(t *testing.T) {
	ns := runServer(t)
	bus := events.New()

	p := NewPublisher(ns.ClientURL(), bus, testLogger())
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	p.Close()

	if p.IsConnected() {
		t.Error("Publisher should not be connected after Close")
	}
	// Publishing after close must not panic
	bus.Publish(events.BackendReadyEvent{SessionID: "s"})
	time.Sleep(20 * time.Millisecond)
}

func TestControlStart(t *testing.T) {
	ns := runServer(t)
	bus := events.New()

	calls := make(chan struct{}, 1)
	p := NewPublisher(ns.ClientURL(), bus, testLogger())
	p.OnStartRequest(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("start handler should get a deadline")
		}
		calls <- struct{}{}
		return nil
	})
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer p.Close()

	client, err := NewControlClient(ns.ClientURL(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create control client: %v", err)
	}
	defer client.Close()

	reply, err := client.Start("test", 2*time.Second)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !reply.OK {
		t.Errorf("reply = %+v, want ok", reply)
	}

	select {
	case <-calls:
	default:
		t.Error("start handler was not called")
	}
}

func TestControlStartRefused(t *testing.T) {
	ns := runServer(t)

	p := NewPublisher(ns.ClientURL(), events.New(), testLogger())
	p.OnStartRequest(func(context.Context) error {
		return process.ErrAlreadyRunning
	})
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer p.Close()

	client, err := NewControlClient(ns.ClientURL(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create control client: %v", err)
	}
	defer client.Close()

	reply, err := client.Start("test", 2*time.Second)
	if err == nil {
		t.Fatal("refused start should return an error")
	}
	if reply.Code != process.ErrCodeAlreadyRunning {
		t.Errorf("code = %q, want %q", reply.Code, process.ErrCodeAlreadyRunning)
	}
}

func TestControlStartWithoutHandler(t *testing.T) {
	ns := runServer(t)

	p := NewPublisher(ns.ClientURL(), events.New(), testLogger())
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer p.Close()

	client, err := NewControlClient(ns.ClientURL(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create control client: %v", err)
	}
	defer client.Close()

	_, err = client.Start("test", 200*time.Millisecond)
	if err == nil || !errors.Is(err, nats.ErrNoResponders) && !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("err = %v, want no responders or timeout", err)
	}
}

func TestControlMalformed(t *testing.T) {
	ns := runServer(t)

	p := NewPublisher(ns.ClientURL(), events.New(), testLogger())
	p.OnStartRequest(func(context.Context) error { return nil })
	if err := p.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer p.Close()

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp, err := conn.Request(SubjectControlStart, []byte(`{"action":"stop"}`), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	reply, err := UnmarshalReply(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if reply.OK || reply.Error == "" {
		t.Errorf("unknown action should be refused, got %+v", reply)
	}
}
