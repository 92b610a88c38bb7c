package ssr

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monstercameron/htmlex-go/signalbus"
)

func TestBrokerBroadcastsToConnectedClient(t *testing.T) {
	b := NewBroker()
	defer b.Shutdown()

	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "event: connected") {
		t.Fatalf("expected initial connected event, got %q (err=%v)", line, err)
	}

	b.Broadcast("update", []byte("<p>hi</p>"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			continue
		}
		if strings.Contains(line, "event: update") {
			return
		}
	}
	t.Fatal("expected broadcast event to reach the client")
}

func TestAttachToBusRebroadcastsPublishedSignals(t *testing.T) {
	b := NewBroker()
	defer b.Shutdown()
	bus := signalbus.New()
	b.AttachToBus(bus, "step-done")

	srv := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	reader.ReadString('\n') // connected event

	bus.Publish("step-done", "ok")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			continue
		}
		if strings.Contains(line, "event: step-done") {
			return
		}
	}
	t.Fatal("expected published signal to be rebroadcast as an SSE event")
}
