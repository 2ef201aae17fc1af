package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, &http.Server{Handler: http.NewServeMux()}, ln, time.Second) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestRunServerDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerDone atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		handlerDone.Store(true)
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot the handler state the moment runServer returns: the drain
	// must not finish while a handler is still running.
	var drainedAtReturn atomic.Bool
	srvDone := make(chan error, 1)
	go func() {
		err := runServer(ctx, &http.Server{Handler: mux}, ln, 5*time.Second)
		drainedAtReturn.Store(handlerDone.Load())
		srvDone <- err
	}()

	reqDone := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err == nil {
			resp.Body.Close() //nolint:errcheck
		}
		reqDone <- err
	}()

	<-started
	cancel()
	time.Sleep(100 * time.Millisecond) // let the shutdown start while the handler is blocked
	close(release)

	require.NoError(t, <-srvDone)
	require.NoError(t, <-reqDone)
	assert.True(t, drainedAtReturn.Load(), "shutdown must wait for in-flight handlers")
}
