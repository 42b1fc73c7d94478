package daemon

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"redub/internal/config"
	"redub/internal/stage"
	"redub/internal/testsupport"
)

func startDaemon(t *testing.T, cfg *config.Config) (*Daemon, context.CancelFunc, chan error) {
	t.Helper()
	d, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Addr() == "" {
		cancel()
		t.Fatal("daemon did not start listening")
	}
	return d, cancel, done
}

func TestRunServesAPIAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, cancel, done := startDaemon(t, cfg)

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, cancel, done := startDaemon(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	second, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}
	err = second.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "another daemon instance") {
		t.Fatalf("second Run error = %v, want lock conflict", err)
	}
}

func TestBuildRegistryRequiresAnEngine(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.GPTSoVITS.Enabled = false
	cfg.TTS.IndexTTS.Enabled = false
	if _, err := buildRegistry(&cfg); err == nil {
		t.Fatal("expected an error with every engine disabled")
	}
}

func TestBuildRegistryRegistersEnabledEngines(t *testing.T) {
	cfg := config.Default()
	cfg.TTS.IndexTTS.Enabled = true
	registry, err := buildRegistry(&cfg)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	for _, engine := range []string{"gptsovits", "indextts"} {
		if !registry.HasEngine(engine) {
			t.Fatalf("engine %s not registered", engine)
		}
	}
	for _, kind := range stage.AllKinds() {
		if kind == stage.KindSynthesize {
			continue
		}
		if _, err := registry.Resolve(kind, ""); err != nil {
			t.Fatalf("Resolve(%s): %v", kind, err)
		}
	}
}
