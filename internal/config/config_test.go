package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.ChunkSeconds != 60 || cfg.Pipeline.SampleRate != 16000 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Model.IdleUnloadSeconds != 300 {
		t.Fatalf("expected 300s idle unload default, got %d", cfg.Model.IdleUnloadSeconds)
	}
	if cfg.Video.DurationFallbackSec != 60 {
		t.Fatalf("expected 60s video fallback default, got %d", cfg.Video.DurationFallbackSec)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
runtime_name: test-runtime
model:
  mode: exec
  command: "python3 engine.py"
  devices: ["cpu", "cuda"]
pipeline:
  chunk_seconds: 30
  max_parallel: 4
effects:
  pitch_semitones: 2.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-runtime" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if cfg.Model.Mode != "exec" || cfg.Model.Command != "python3 engine.py" {
		t.Fatalf("unexpected model config: %+v", cfg.Model)
	}
	if len(cfg.Model.Devices) != 2 || cfg.Model.Devices[1] != "cuda" {
		t.Fatalf("unexpected devices: %v", cfg.Model.Devices)
	}
	if cfg.Pipeline.ChunkSeconds != 30 || cfg.Pipeline.MaxParallel != 4 {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.Effects.PitchSemitones != 2.5 {
		t.Fatalf("unexpected effects config: %+v", cfg.Effects)
	}
	// Sections not in the file keep defaults.
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.HTTP.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SONANT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SONANT_BUS_USERNAME", "alice")
	t.Setenv("SONANT_BUS_PASSWORD", "secret")
	t.Setenv("SONANT_BUS_TLS_INSECURE", "true")
	t.Setenv("SONANT_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("SONANT_MODEL_MODE", "exec")
	t.Setenv("SONANT_MODEL_COMMAND", "python3 engine.py")
	t.Setenv("SONANT_MODEL_DEVICES", "cpu,cuda")
	t.Setenv("SONANT_MODEL_IDLE_UNLOAD_SECONDS", "120")
	t.Setenv("SONANT_PIPELINE_MAX_PARALLEL", "8")
	t.Setenv("SONANT_PIPELINE_MAX_INPUT_MB", "250")
	t.Setenv("SONANT_JOB_STORE_PATH", "./tmp.db")
	t.Setenv("SONANT_JOB_STORE_RETENTION_DAYS", "7")
	t.Setenv("SONANT_EFFECTS_VOLUME_FACTOR", "1.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Model.Mode != "exec" || cfg.Model.Command != "python3 engine.py" {
		t.Fatalf("expected model override, got %+v", cfg.Model)
	}
	if len(cfg.Model.Devices) != 2 || cfg.Model.Devices[1] != "cuda" {
		t.Fatalf("expected devices override, got %v", cfg.Model.Devices)
	}
	if cfg.Model.IdleUnloadSeconds != 120 {
		t.Fatalf("expected idle unload override, got %d", cfg.Model.IdleUnloadSeconds)
	}
	if cfg.Pipeline.MaxParallel != 8 {
		t.Fatalf("expected max parallel override, got %d", cfg.Pipeline.MaxParallel)
	}
	if cfg.Pipeline.MaxInputMB != 250 {
		t.Fatalf("expected max input override, got %d", cfg.Pipeline.MaxInputMB)
	}
	if cfg.JobStore.Path != "./tmp.db" {
		t.Fatalf("expected job store path override")
	}
	if cfg.JobStore.RetentionDays != 7 {
		t.Fatalf("expected job store retention days override")
	}
	if cfg.Effects.VolumeFactor != 1.5 {
		t.Fatalf("expected volume override, got %f", cfg.Effects.VolumeFactor)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("SONANT_MODEL_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsBadRetentionMode(t *testing.T) {
	t.Setenv("SONANT_JOB_STORE_RETENTION_MODE", "session")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown retention mode")
	}
}
