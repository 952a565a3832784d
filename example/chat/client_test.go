package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Zereker/msgnet"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("127.0.0.1:1337")
	if err != nil || host != "127.0.0.1" || port != 1337 {
		t.Errorf("splitAddr = %q, %d, %v", host, port, err)
	}

	for _, bad := range []string{"localhost", "host:port", ""} {
		if _, _, err = splitAddr(bad); err == nil {
			t.Errorf("splitAddr(%q) should fail", bad)
		}
	}
}

func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestConnectWithBreaker_GivesUp(t *testing.T) {
	logger, hook := test.NewNullLogger()

	client, err := msgnet.NewClient("127.0.0.1", closedPort(t), newRegistry())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = connectWithBreaker(context.Background(), client, 4, 5*time.Millisecond, logger)
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !strings.Contains(err.Error(), "after 4 attempts") {
		t.Errorf("error = %v", err)
	}
	if n := countEntries(hook, "connect failed"); n != 4 {
		t.Errorf("logged %d connect failures, want 4", n)
	}
	if n := countEntries(hook, "breaker state changed"); n == 0 {
		t.Error("breaker never changed state")
	}
}

func TestConnectWithBreaker_Cancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()

	client, err := msgnet.NewClient("127.0.0.1", closedPort(t), newRegistry())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err = connectWithBreaker(ctx, client, 10, time.Second, logger); err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunClient_SendsStdinLines(t *testing.T) {
	_, hook, cfg := startChatServer(t, nil)
	cfg.LogLevel = "error"

	in, stdin := io.Pipe()
	var out bytes.Buffer

	errc := make(chan error, 1)
	go func() {
		errc <- runClient(context.Background(), cfg, 1, 10*time.Millisecond, in, &out)
	}()

	if _, err := io.WriteString(stdin, "first line\nsecond line\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for countEntries(hook, "received") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("server logged %d received entries, want 2", countEntries(hook, "received"))
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = stdin.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("runClient failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runClient did not return after stdin closed")
	}
}
