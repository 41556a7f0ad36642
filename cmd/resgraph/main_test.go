package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

const testSchema = `
types:
  - name: TemperatureSensor
    members:
      - {name: reading, type: FloatResource}
  - name: Thermostat
    members:
      - {name: temperatureSensor, type: TemperatureSensor}
patterns:
  - name: heating
    anchor: Thermostat
    fields:
      - name: reading
        path: temperatureSensor/reading
        type: FloatResource
        notify: [value]
`

// writeConfig writes a config with SQLite in dir and the API on port.
func writeConfig(t *testing.T, dir string, port int) string {
	t.Helper()
	schemaPath := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	content := fmt.Sprintf(`
site:
  id: test-site
database:
  driver: sqlite
  path: %q
schema:
  files: [%q]
api:
  host: 127.0.0.1
  port: %d
logging:
  level: error
  output: discard
security:
  jwt:
    secret: %q
`, filepath.Join(dir, "resgraph.db"), schemaPath, port, testSecret)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("resolveConfigPath() = %q, want default", got)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/resgraph.yaml")
	if got := resolveConfigPath(""); got != "/etc/resgraph.yaml" {
		t.Errorf("resolveConfigPath() = %q, want env path", got)
	}
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want flag", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestSchemaCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(path, []byte(testSchema), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	out, err := execute(t, "schema", "check", path)
	if err != nil {
		t.Fatalf("schema check error = %v (output %q)", err, out)
	}
	if !strings.Contains(out, "Thermostat") || !strings.Contains(out, "heating") {
		t.Errorf("output = %q, want Thermostat and heating listed", out)
	}
}

func TestSchemaCheck_UnknownMemberType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	doc := "types:\n  - name: Boiler\n    members:\n      - {name: burner, type: Burner}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	if _, err := execute(t, "schema", "check", path); err == nil {
		t.Fatal("schema check should fail for an unresolvable member type")
	}
}

func TestToken(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), 18080)

	out, err := execute(t, "token", "panel", "--config", cfgPath, "--role", "operator", "--scope", "hall")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %s/%s, want panel/operator", claims.Subject, claims.Role)
	}
	if len(claims.Scope) != 1 || claims.Scope[0] != "hall" {
		t.Errorf("scope = %v, want [hall]", claims.Scope)
	}
}

func TestToken_UnknownRole(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), 18080)
	if _, err := execute(t, "token", "panel", "--config", cfgPath, "--role", "janitor"); err == nil {
		t.Fatal("token should fail for an unknown role")
	}
}

func TestMigrate(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), 18080)

	out, err := execute(t, "migrate", "--config", cfgPath)
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("output = %q, want only applied migrations", out)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	const port = 18391
	cfgPath := writeConfig(t, t.TempDir(), port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfgPath) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:gosec,noctx // Test against a local server
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
