package main

import (
	"bytes"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func stubSignal(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})
	signalNotify = func(ch chan<- os.Signal, sig ...os.Signal) {
		go func() {
			ch <- syscall.SIGTERM
		}()
	}
}

func TestShutdownOnSignal(t *testing.T) {
	stubSignal(t)

	server := &http.Server{}
	called := make(chan struct{}, 1)
	server.RegisterOnShutdown(func() {
		called <- struct{}{}
	})

	shutdown(server, time.Millisecond, zaptest.NewLogger(t))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("expected server shutdown callback to execute")
	}
}

func TestServeStopsOnSignal(t *testing.T) {
	stubSignal(t)

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run([]string{"--log-level", "error", "serve", "--port", "0", "--rate-limit-rps", "0"}, &stdout, &stderr)
	}()

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after the shutdown signal")
	}
}
