package main

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"gopkg.in/yaml.v3"
)

func TestFlagsOverrideEnvConfig(t *testing.T) {
	t.Setenv("VOCALINK_PROVIDER", "openai")
	t.Setenv("VOCALINK_API_KEY", "sk-env")
	var stderr bytes.Buffer
	fs, f, err := parseFlags([]string{"--provider", "outspeed", "--voice", "female", "--loopback"}, &stderr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := loadConfig(fs, f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider != "outspeed" || cfg.APIKey != "sk-env" {
		t.Fatalf("unexpected provider/key %q %q", cfg.Provider, cfg.APIKey)
	}
	if !cfg.Peer.IncludeLoopback {
		t.Fatalf("expected loopback enabled")
	}
	if cfg.ProviderSettings["voice"] != "female" {
		t.Fatalf("expected voice override, got %v", cfg.ProviderSettings)
	}
	if _, ok := cfg.ProviderSettings["model"]; ok {
		t.Fatalf("unset flags must not override settings")
	}
}

func TestRunRejectsUnknownProvider(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"--provider", "nope", "--no-banner"}, strings.NewReader(""), &stdout, &stderr)
	if !errorsx.HasReason(err, errorsx.ReasonConfigUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--version"}, strings.NewReader(""), &stdout, &stderr); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "vocalink ") {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestRunMissingKeyFailsBeforeConnecting(t *testing.T) {
	t.Setenv("VOCALINK_API_KEY", "")
	var stdout, stderr bytes.Buffer
	err := run([]string{"--provider", "openai", "--no-banner", "--log-level", "error"}, strings.NewReader(""), &stdout, &stderr)
	if !errorsx.HasReason(err, errorsx.ReasonConfigMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestRunPrintConfigMasksKey(t *testing.T) {
	t.Setenv("VOCALINK_API_KEY", "sk-live-abcdef123456")
	var stdout, stderr bytes.Buffer
	err := run([]string{"--provider", "openai", "--voice", "alloy", "--print-config"}, strings.NewReader(""), &stdout, &stderr)
	if err != nil {
		t.Fatalf("print-config: %v", err)
	}
	if strings.Contains(stdout.String(), "abcdef123456") {
		t.Fatalf("api key leaked: %s", stdout.String())
	}
	var out map[string]any
	if err := yaml.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("output is not yaml: %v", err)
	}
	if out["provider"] != "openai" || out["api_key"] != "sk-l...[REDACTED]" {
		t.Fatalf("unexpected output %v", out)
	}
	settings, ok := out["provider_settings"].(map[string]any)
	if !ok || settings["voice"] != "alloy" {
		t.Fatalf("unexpected provider_settings %v", out["provider_settings"])
	}
}

func TestServeMetrics(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "vocalink_up 1\n")
	})
	addr, shutdown, err := serveMetrics("127.0.0.1:0", handler, logging.Discard())
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer shutdown()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "vocalink_up 1\n" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	if _, _, err := serveMetrics("256.0.0.1:bad", handler, logging.Discard()); err == nil {
		t.Fatalf("expected listen error")
	}
}
