package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/particle-bridge/internal/infrastructure/config"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/influxdb"
)

// fakeInflux records write requests and answers pings.
type fakeInflux struct {
	mu          sync.Mutex
	bodies      []string
	queries     []string
	auth        []string
	writeStatus int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping", "/health":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.queries = append(f.queries, r.URL.RawQuery)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		status := f.writeStatus
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusNoContent
		}
		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"code":"invalid","message":"partial write: field type conflict"}`)
			return
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) Bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func newFakeClient(t *testing.T, fake *fakeInflux) *influxdb.Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := influxdb.New(config.InfluxDBConfig{
		Enabled:      true,
		URL:          server.URL,
		Token:        "influx-test-token",
		Org:          "home",
		Bucket:       "sensors",
		WriteTimeout: 2,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNew_Disabled(t *testing.T) {
	_, err := influxdb.New(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("New() error = %v, want ErrDisabled", err)
	}
}

func TestNew_MissingSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.InfluxDBConfig
	}{
		{name: "no url", cfg: config.InfluxDBConfig{Enabled: true, Org: "o", Bucket: "b"}},
		{name: "no org", cfg: config.InfluxDBConfig{Enabled: true, URL: "http://x", Bucket: "b"}},
		{name: "no bucket", cfg: config.InfluxDBConfig{Enabled: true, URL: "http://x", Org: "o"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := influxdb.New(tt.cfg); !errors.Is(err, influxdb.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestWritePoint_SendsLineProtocol(t *testing.T) {
	fake := &fakeInflux{}
	client := newFakeClient(t, fake)

	err := client.WritePoint(context.Background(), "env",
		map[string]string{"location": "lab", "device": "d1"},
		map[string]interface{}{"temperature": 21.5, "humidity": 40.2},
		time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("WritePoint() error = %v", err)
	}

	bodies := fake.Bodies()
	if len(bodies) != 1 {
		t.Fatalf("got %d write requests, want 1", len(bodies))
	}

	want := "env,device=d1,location=lab humidity=40.2,temperature=21.5 1700000000000000000"
	if got := strings.TrimSpace(bodies[0]); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if !strings.Contains(fake.queries[0], "bucket=sensors") || !strings.Contains(fake.queries[0], "org=home") {
		t.Errorf("query = %q, want org and bucket", fake.queries[0])
	}
	if fake.auth[0] != "Token influx-test-token" {
		t.Errorf("Authorization = %q", fake.auth[0])
	}
}

func TestWritePoint_ServerError(t *testing.T) {
	fake := &fakeInflux{writeStatus: http.StatusBadRequest}
	client := newFakeClient(t, fake)

	err := client.WritePoint(context.Background(), "env",
		map[string]string{"device": "d1"},
		map[string]interface{}{"temperature": 1.0},
		time.Unix(1, 0))
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Fatalf("WritePoint() error = %v, want ErrWriteFailed", err)
	}

	// Blocking writes are not retried.
	if n := len(fake.Bodies()); n != 1 {
		t.Errorf("got %d write requests, want 1", n)
	}
}

func TestWritePoint_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := influxdb.New(config.InfluxDBConfig{Enabled: true, URL: url, Org: "o", Bucket: "b", WriteTimeout: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	err = client.WritePoint(context.Background(), "env", nil, map[string]interface{}{"v": 1.0}, time.Now())
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("WritePoint() error = %v, want ErrWriteFailed", err)
	}
}

func TestWritePoint_AfterClose(t *testing.T) {
	client := newFakeClient(t, &fakeInflux{})
	client.Close()

	err := client.WritePoint(context.Background(), "env", nil, map[string]interface{}{"v": 1.0}, time.Now())
	if !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WritePoint() error = %v, want ErrNotConnected", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestHealthCheck_Fake(t *testing.T) {
	client := newFakeClient(t, &fakeInflux{})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	client := newFakeClient(t, &fakeInflux{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestClose_Twice(t *testing.T) {
	client := newFakeClient(t, &fakeInflux{})
	if err := client.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLineProtocol(t *testing.T) {
	got := influxdb.LineProtocol("env",
		map[string]string{"location": "living room", "device": "d1"},
		map[string]interface{}{"temperature": 21.5},
		time.Unix(1700000000, 0))

	want := "env,device=d1,location=living\\ room temperature=21.5 1700000000000000000"
	if strings.TrimSpace(got) != want {
		t.Errorf("LineProtocol() = %q, want %q", got, want)
	}
}

// TestIntegration_WritePoint writes to a real server when RUN_INTEGRATION is set.
func TestIntegration_WritePoint(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a live InfluxDB")
	}

	client, err := influxdb.New(config.InfluxDBConfig{
		Enabled:      true,
		URL:          "http://127.0.0.1:8086",
		Token:        os.Getenv("INFLUX_TOKEN"),
		Org:          os.Getenv("INFLUX_ORG"),
		Bucket:       os.Getenv("INFLUX_BUCKET"),
		WriteTimeout: 5,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}

	err = client.WritePoint(context.Background(), "integration_test",
		map[string]string{"location": "test", "device": "go-test"},
		map[string]interface{}{"temperature": 20.0, "humidity": 50.0},
		time.Now())
	if err != nil {
		t.Errorf("WritePoint() error = %v", err)
	}
}
