package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
portal:
  address: portal.example.com
credentials: YWRtaW46czNjcmV0
engine:
  insecure_skip_verify: true
paths:
  tags: /data/tags
  logs: /var/log/fleettag
queries:
  - object_type: device
    category: Site
    id_column: name
    query: |
      (select (name)
        (from device))
  - object_type: binary
    category: Approval
    id_column: hash
    query: (select (hash) (from binary))
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FLEETTAG_CREDENTIALS", "FLEETTAG_PORTAL", "FLEETTAG_PORTAL_PORT",
		"FLEETTAG_TAGS_PATH", "FLEETTAG_LOG_PATH", "FLEETTAG_WORKERS",
		"NATS_URL", "S3_BUCKET", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(context.Background(), []byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Portal.Port != 443 {
		t.Fatalf("Portal.Port = %d, want 443", cfg.Portal.Port)
	}
	if cfg.Engine.Port != 1671 {
		t.Fatalf("Engine.Port = %d, want 1671", cfg.Engine.Port)
	}
	if cfg.Engine.Timeout != 30*time.Second {
		t.Fatalf("Engine.Timeout = %v, want 30s", cfg.Engine.Timeout)
	}
	if cfg.Fanout.Workers != 40 {
		t.Fatalf("Fanout.Workers = %d, want 40", cfg.Fanout.Workers)
	}
	if cfg.Tagger.Settle != 10*time.Second {
		t.Fatalf("Tagger.Settle = %v, want 10s", cfg.Tagger.Settle)
	}
	if cfg.Tagger.FailOnUnreachable {
		t.Fatalf("Tagger.FailOnUnreachable = true, want false")
	}
	if !cfg.Engine.InsecureSkipVerify {
		t.Fatalf("Engine.InsecureSkipVerify = false, want true")
	}
}

func TestParseExplicitZeroSettle(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(context.Background(), []byte(validYAML+"tagger: {settle: 0s}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Tagger.Settle != 0 {
		t.Fatalf("Tagger.Settle = %v, want 0", cfg.Tagger.Settle)
	}
}

func TestParseNormalizesTemplates(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse(context.Background(), []byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tmpl, err := cfg.Template("device", "Site")
	if err != nil {
		t.Fatalf("Template() error = %v", err)
	}
	if tmpl.Query != "(select (name) (from device))" {
		t.Fatalf("Template().Query = %q", tmpl.Query)
	}
	if tmpl.IDColumn != "name" {
		t.Fatalf("Template().IDColumn = %q, want name", tmpl.IDColumn)
	}

	if _, err := cfg.Template("device", "Owner"); err == nil {
		t.Fatalf("Template(device, Owner) error = nil, want error")
	}
}

func TestParseEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEETTAG_CREDENTIALS", "b3BzOnB3")
	t.Setenv("FLEETTAG_PORTAL", "other-portal.example.com")
	t.Setenv("FLEETTAG_WORKERS", "8")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Parse(context.Background(), []byte(validYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Credentials != "b3BzOnB3" {
		t.Fatalf("Credentials = %q, want env value", cfg.Credentials)
	}
	if cfg.Portal.Address != "other-portal.example.com" {
		t.Fatalf("Portal.Address = %q", cfg.Portal.Address)
	}
	if cfg.Fanout.Workers != 8 {
		t.Fatalf("Fanout.Workers = %d, want 8", cfg.Fanout.Workers)
	}
	if cfg.Bus.URL != "nats://127.0.0.1:4222" {
		t.Fatalf("Bus.URL = %q", cfg.Bus.URL)
	}
	if cfg.Paths.Tags != "/data/tags" {
		t.Fatalf("Paths.Tags = %q, want file value", cfg.Paths.Tags)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "empty document",
			yaml:    "{}",
			wantErr: []string{"portal.address is required", "credentials are required", "paths.tags is required", "at least one query is required"},
		},
		{
			name: "bad query entries",
			yaml: `
portal: {address: portal}
credentials: YWRtaW46czNjcmV0
paths: {tags: /tags}
queries:
  - {object_type: device, category: Site, id_column: serial, query: "(select (id) (from device))"}
  - {object_type: device, category: Owner, id_column: id, query: "(select (id) (from device (where (eq site $Site$))))"}
  - {object_type: device, category: Site, id_column: id, query: ""}
`,
			wantErr: []string{
				`queries[0].id_column "serial" must be one of id, hash, name`,
				"queries[1].query:",
				"queries[2].query:",
				"queries[2] duplicates queries[0] for device/Site",
			},
		},
		{
			name: "credentials not base64",
			yaml: `
portal: {address: portal}
credentials: "not base64!"
paths: {tags: /tags}
queries:
  - {object_type: device, category: Site, id_column: id, query: "(select (id) (from device))"}
`,
			wantErr: []string{"credentials:"},
		},
		{
			name: "negative settle",
			yaml: `
portal: {address: portal}
credentials: YWRtaW46czNjcmV0
tagger: {settle: -1s}
paths: {tags: /tags}
queries:
  - {object_type: device, category: Site, id_column: id, query: "(select (id) (from device))"}
`,
			wantErr: []string{"tagger.settle must not be negative"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			_, err := Parse(context.Background(), []byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() error = nil, want %v", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Fatalf("Parse() error = %q, want it to contain %q", err, want)
				}
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() error = %v, want not-exist", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	creds, err := cfg.CredentialsValue()
	if err != nil {
		t.Fatalf("CredentialsValue() error = %v", err)
	}
	if got := creds.Header(); got != "Basic YWRtaW46czNjcmV0" {
		t.Fatalf("Header() = %q", got)
	}
}
