package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
)

const replay = `[
	{"key":"AB123","lon":10,"lat":20,"alt_ft":30000,"heading":90,"callsign":"TEST1","extra":{"aircraft_code":"A320"}},
	{"key":"SAT-1","kind":"satellite","lon":-40,"lat":5,"alt_ft":1300000,"heading":45}
]`

func writeReplay(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.json")
	if err := os.WriteFile(path, []byte(replay), 0o644); err != nil {
		t.Fatalf("write replay: %v", err)
	}
	return path
}

func TestRunOnce(t *testing.T) {
	cfg := Config{
		Source:     "file",
		ReplayFile: writeReplay(t),
		Once:       true,
		Registerer: prometheus.NewRegistry(),
	}
	if err := run(context.Background(), cfg, logging.Noop(), nil, nil); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestSelectionDropsEntityThatLeavesFeed(t *testing.T) {
	path := writeReplay(t)
	tr, err := newTracker(context.Background(), Config{
		Source:     "file",
		ReplayFile: path,
		Registerer: prometheus.NewRegistry(),
	}, logging.Noop())
	if err != nil {
		t.Fatalf("newTracker: %v", err)
	}
	defer tr.Close()

	ctx := context.Background()
	if err := tr.rec.RunOnce(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	plane := tr.rec.Get("AB123")
	if plane == nil {
		t.Fatalf("AB123 not tracked after first cycle")
	}
	tr.sel.Set(plane)

	remaining := `[{"key":"SAT-1","kind":"satellite","lon":-40,"lat":5,"alt_ft":1300000,"heading":45}]`
	if err := os.WriteFile(path, []byte(remaining), 0o644); err != nil {
		t.Fatalf("rewrite replay: %v", err)
	}
	if err := tr.rec.RunOnce(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if tr.rec.Get("AB123") != nil {
		t.Fatalf("AB123 still tracked after leaving the feed")
	}
	if tr.sel.Contains(plane) || tr.sel.Len() != 0 {
		t.Fatalf("selection still holds AB123: len=%d", tr.sel.Len())
	}
}

func TestTracingFlagsOverrideEnv(t *testing.T) {
	t.Setenv("GLOBE_TRACING_SERVICE_NAME", "from-env")
	t.Setenv("GLOBE_TRACING_SAMPLE_RATIO", "0.5")

	tc := Config{Source: "tle"}.tracingConfig()
	if tc.ServiceName != "from-env" || tc.SampleRatio != 0.5 {
		t.Fatalf("env-only config = %+v", tc)
	}
	if len(tc.Sources) != 1 || tc.Sources[0] != "tle" {
		t.Fatalf("sources = %v", tc.Sources)
	}

	ratio := 0.1
	tc = Config{Source: "fr24", TraceService: "globe-edge", TraceSampleRatio: &ratio}.tracingConfig()
	if tc.ServiceName != "globe-edge" || tc.SampleRatio != 0.1 {
		t.Fatalf("flag override config = %+v", tc)
	}
}

func TestRunRejectsBadSource(t *testing.T) {
	for _, cfg := range []Config{
		{Source: "carrier-pigeon", Once: true},
		{Source: "tle", Once: true},
		{Source: "file", Once: true},
	} {
		cfg.Registerer = prometheus.NewRegistry()
		if err := run(context.Background(), cfg, logging.Noop(), nil, nil); err == nil {
			t.Fatalf("run(%+v) succeeded, want error", cfg)
		}
	}
}

func TestServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := Config{
		Source:       "file",
		ReplayFile:   writeReplay(t),
		Interval:     50 * time.Millisecond,
		FetchTimeout: time.Second,
		Registerer:   prometheus.NewRegistry(),
	}

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx, cfg, logging.Noop(), grpcLis, httpLis)
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "file"})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("source never became SERVING: resp=%v err=%v", resp, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	base := "http://" + httpLis.Addr().String()
	resp, err := http.Get(base + "/entities")
	if err != nil {
		t.Fatalf("GET /entities: %v", err)
	}
	var entities []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		t.Fatalf("decode /entities: %v", err)
	}
	resp.Body.Close()
	if len(entities) != 2 || entities[0]["key"] != "AB123" || entities[1]["kind"] != "satellite" {
		t.Fatalf("entities = %+v", entities)
	}
	payload, _ := entities[0]["payload"].(map[string]any)
	if payload["aircraft_code"] != "A320" {
		t.Fatalf("payload = %+v", entities[0]["payload"])
	}

	resp, err = http.Post(base+"/select?key=SAT-1", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /select: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "SAT-1 [satellite]") {
		t.Fatalf("select = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Post(base+"/select?key=nope", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /select: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("select unknown = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`globe_reconcile_cycles_total{outcome="ok",source="file"}`,
		`globe_tracked_entities{source="file"} 2`,
		`globe_rpc_requests_total{code="OK",method="Check",service="Health"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("/metrics missing %q", want)
		}
	}

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
