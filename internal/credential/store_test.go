package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeStoreFile writes a credential reference file into a temp dir.
func writeStoreFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing credential file: %v", err)
	}
	return path
}

func TestLoadStatic_ResolvesFromEnvironment(t *testing.T) {
	t.Setenv("TEST_CRED_CORE", "env-secret")
	t.Setenv("TEST_CRED_EDGE", "other-secret")

	path := writeStoreFile(t, `
credentials:
  core_admin:
    username: netops
    secret_env: TEST_CRED_CORE
  edge_admin:
    username: edgeops
    secret_env: TEST_CRED_EDGE
`)

	resolver, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic failed: %v", err)
	}

	cred, err := resolver.Resolve(context.Background(), "core_admin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cred.Username != "netops" || cred.Secret() != "env-secret" {
		t.Errorf("unexpected credential: username=%q secret=%q", cred.Username, cred.Secret())
	}
}

func TestLoadStatic_RejectsInlineSecret(t *testing.T) {
	path := writeStoreFile(t, `
credentials:
  core_admin:
    username: netops
    secret: hunter2
`)

	_, err := LoadStatic(path)
	if err == nil {
		t.Fatal("inline secret must fail the load")
	}
	if !strings.Contains(err.Error(), "inline secrets are not permitted") {
		t.Errorf("error should name the inline secret rule: %v", err)
	}
	// The error message itself must not echo the secret.
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error leaked the secret: %v", err)
	}
}

func TestLoadStatic_RequiresSecretEnv(t *testing.T) {
	path := writeStoreFile(t, `
credentials:
  core_admin:
    username: netops
`)

	_, err := LoadStatic(path)
	if err == nil || !strings.Contains(err.Error(), "secret_env is required") {
		t.Errorf("missing secret_env should fail the load, got %v", err)
	}
}

func TestLoadStatic_RequiresUsername(t *testing.T) {
	path := writeStoreFile(t, `
credentials:
  core_admin:
    secret_env: TEST_CRED_ANY
`)

	_, err := LoadStatic(path)
	if err == nil || !strings.Contains(err.Error(), "username is required") {
		t.Errorf("missing username should fail the load, got %v", err)
	}
}

func TestLoadStatic_UnsetEnvironmentVariableFatal(t *testing.T) {
	path := writeStoreFile(t, `
credentials:
  core_admin:
    username: netops
    secret_env: TEST_CRED_DEFINITELY_UNSET
`)

	_, err := LoadStatic(path)
	if err == nil || !strings.Contains(err.Error(), "TEST_CRED_DEFINITELY_UNSET") {
		t.Errorf("unset env var should fail the load naming the variable, got %v", err)
	}
}

func TestLoadStatic_MissingFile(t *testing.T) {
	if _, err := LoadStatic(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestLoadStatic_MalformedYAML(t *testing.T) {
	path := writeStoreFile(t, "credentials: [not a map")
	if _, err := LoadStatic(path); err == nil {
		t.Error("malformed YAML should be an error")
	}
}
