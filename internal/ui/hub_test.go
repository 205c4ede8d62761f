package ui

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aegisd/aegis/internal/observe"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	waitForClients(t, h, 1)
	return conn
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestHub_TranscriptReachesClient(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	h.TranscriptRecognized("activate guard mode")

	ev := readEvent(t, conn)
	if ev.Type != EventTranscript {
		t.Errorf("Type = %q, want %q", ev.Type, EventTranscript)
	}
	if ev.Text != "activate guard mode" {
		t.Errorf("Text = %q", ev.Text)
	}
	if ev.ID == "" {
		t.Error("ID is empty, want a generated identifier")
	}
}

func TestHub_NotificationCarriesTTL(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	h.ActionNotification("guard mode activated", "info")

	ev := readEvent(t, conn)
	if ev.Type != EventNotification {
		t.Errorf("Type = %q, want %q", ev.Type, EventNotification)
	}
	if ev.Message != "guard mode activated" || ev.Severity != "info" {
		t.Errorf("Message/Severity = %q/%q", ev.Message, ev.Severity)
	}
	if ev.TTLMillis != 3000 {
		t.Errorf("TTLMillis = %d, want 3000", ev.TTLMillis)
	}
}

func TestHub_ModeChange(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	h.ModeChanged(true)

	ev := readEvent(t, conn)
	if ev.Type != EventMode {
		t.Errorf("Type = %q, want %q", ev.Type, EventMode)
	}
	if ev.Active == nil || !*ev.Active {
		t.Errorf("Active = %v, want true", ev.Active)
	}
}

func TestHub_RecalibrateRequest(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"recalibrate"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-h.Recalibrations():
	case <-time.After(5 * time.Second):
		t.Fatal("no recalibration signal received")
	}
}

func TestHub_MalformedClientMessageIgnored(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The connection must survive the malformed frame.
	h.TranscriptRecognized("still alive")
	if ev := readEvent(t, conn); ev.Text != "still alive" {
		t.Errorf("Text = %q, want still alive", ev.Text)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, h, 0)
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub()
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	h.Broadcast(Event{Type: EventTranscript, Text: "one"})
	h.Broadcast(Event{Type: EventTranscript, Text: "two"})

	if got := h.DroppedEvents(); got != 1 {
		t.Errorf("DroppedEvents() = %d, want 1", got)
	}
}

func TestHub_ClientGaugeTracksConnections(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := NewHub(WithMetrics(metrics))
	conn := dialHub(t, h)

	if got := uiClientsGauge(t, reader); got != 1 {
		t.Errorf("connected clients gauge = %d, want 1 after connect", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, h, 0)

	if got := uiClientsGauge(t, reader); got != 0 {
		t.Errorf("connected clients gauge = %d, want 0 after disconnect", got)
	}
}

func uiClientsGauge(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "aegis.ui.clients" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatal("aegis.ui.clients has no data points")
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatal("aegis.ui.clients not found")
	return 0
}

func TestHub_PumpSpectra(t *testing.T) {
	t.Parallel()

	h := NewHub()
	conn := dialHub(t, h)

	spectra := make(chan []float64, 1)
	spectra <- []float64{0.1, 0.5, 0.9}
	close(spectra)
	if err := h.PumpSpectra(context.Background(), spectra); err != nil {
		t.Fatalf("PumpSpectra: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != EventSpectrum {
		t.Errorf("Type = %q, want %q", ev.Type, EventSpectrum)
	}
	if len(ev.Bands) != 3 || ev.Bands[1] != 0.5 {
		t.Errorf("Bands = %v", ev.Bands)
	}
}
