package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fieldsync/internal/config"
	"fieldsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	collector  *httptest.Server
}

// setupCLITestEnv writes a config pointing at a stub collector that answers
// every report with status.
func setupCLITestEnv(t *testing.T, status int, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithCollectorURL(server.URL + "/reports")}, opts...)...)
	env := &cliTestEnv{
		cfg:        cfg,
		configPath: filepath.Join(testsupport.BaseDir(cfg), "config.toml"),
		collector:  server,
	}
	env.writeConfig(t)
	return env
}

func (e *cliTestEnv) writeConfig(t *testing.T) {
	t.Helper()
	data, err := toml.Marshal(*e.cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(e.configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeJSON[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}
