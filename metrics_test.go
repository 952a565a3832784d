package msgnet

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.connectionAccepted()
	m.connectionClosed()
	m.messagesDrained(3)
	m.handlerPanic(eventMessage)
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.connectionAccepted()
	m.handlerPanic(eventConnected)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"test_server_connections_accepted_total",
		"test_server_connections_closed_total",
		"test_server_connections_active",
		"test_server_messages_drained_total",
		"test_server_handler_panics_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetrics_ServerActivity(t *testing.T) {
	registry := newTestRegistry(t)
	rec := newRecorder()
	m := NewMetrics(prometheus.NewRegistry(), "test")
	_, port := startTestServer(t, registry, rec.chatHandler(), ServerMetricsOption(m))

	client := connectTestClient(t, registry, port)
	nextConn(t, rec.connected, "client connect")

	if got := testutil.ToFloat64(m.accepted); got != 1 {
		t.Errorf("accepted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.active); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}

	for i := 0; i < 3; i++ {
		if err := client.Send(NewStringMessage("hello")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	waitFor(t, 2*time.Second, "drained messages", func() bool {
		return testutil.ToFloat64(m.drained) == 3
	})

	client.Disconnect()
	nextConn(t, rec.disconnected, "server side removal")

	if got := testutil.ToFloat64(m.disconnected); got != 1 {
		t.Errorf("closed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.active); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestMetrics_HandlerPanics(t *testing.T) {
	registry := newTestRegistry(t)
	disconnected := make(chan *ClientConnection, 1)
	m := NewMetrics(nil, "")

	handler := HandlerFuncs{
		Connected:    func(*ClientConnection) { panic("connect failure") },
		Disconnected: func(c *ClientConnection) { disconnected <- c },
	}
	_, port := startTestServer(t, registry, handler, ServerMetricsOption(m))

	client := connectTestClient(t, registry, port)
	nextConn(t, disconnected, "panicking connection removal")
	waitDone(t, client.Transceiver(), 2*time.Second)

	if got := testutil.ToFloat64(m.handlerPanics.WithLabelValues(eventConnected)); got != 1 {
		t.Errorf("handler_panics{event=connected} = %v, want 1", got)
	}
}

func TestMetrics_DrainedCountsArrivalsDuringHandler(t *testing.T) {
	m := NewMetrics(nil, "")
	handler := HandlerFuncs{
		Message: func(_ *ClientConnection, q *Queue) {
			q.Drain()
			// the reader delivers more while the handler runs
			q.Push(NewStringMessage("late 1"))
			q.Push(NewStringMessage("late 2"))
			q.Pop()
		},
	}
	server, err := NewServer(newTestRegistry(t), handler, ServerMetricsOption(m))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	cc := &ClientConnection{Transceiver: newTransceiver(server.registry, buildOptions(nil)), id: 1}
	for i := 0; i < 3; i++ {
		cc.Received().Push(NewStringMessage("queued"))
	}
	run := &serverRun{conns: newConnSet()}
	run.conns.add(cc)

	server.dispatch(run)

	if got := testutil.ToFloat64(m.drained); got != 4 {
		t.Errorf("drained = %v, want 4", got)
	}
	if n := cc.Received().Len(); n != 1 {
		t.Errorf("queue holds %d messages, want 1", n)
	}
}
