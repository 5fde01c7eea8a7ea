package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Credentials baked into tests/integration/docker-compose.yml.
const (
	VaultRootToken   = "secretops-root"
	PostgresPassword = "secretops"
	MySQLPassword    = "secretops"
	LocalStackRegion = "us-east-1"
)

// containerPorts lists the ports each compose service publishes.
var containerPorts = map[string][]int{
	"vault":      {8200},
	"postgres":   {5432},
	"mysql":      {3306},
	"localstack": {4566},
}

// DockerEnv is a docker compose project started for one test.
type DockerEnv struct {
	t           *testing.T
	composePath string
	projectName string
	services    []string
	ports       map[string]map[int]int
	started     bool
}

// StartDockerEnv starts services from tests/integration/docker-compose.yml
// and stops them when the test ends. The test is skipped in short mode or
// when Docker is unavailable.
func StartDockerEnv(t *testing.T, services ...string) *DockerEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	SkipIfDockerUnavailable(t)

	composePath := findComposeFile()
	if composePath == "" {
		t.Fatal("docker-compose.yml not found in tests/integration/")
	}

	// Environment the SDKs read would override the compose endpoints.
	for _, v := range []string{"VAULT_ADDR", "VAULT_TOKEN", "AWS_ENDPOINT_URL", "AWS_PROFILE", "PGHOST", "PGPORT"} {
		t.Setenv(v, "")
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_REGION", LocalStackRegion)

	env := &DockerEnv{
		t:           t,
		composePath: composePath,
		projectName: fmt.Sprintf("secretops-test-%d", time.Now().UnixNano()),
		services:    services,
	}
	env.start()
	t.Cleanup(env.Stop)

	if err := env.WaitForHealthy(90 * time.Second); err != nil {
		t.Fatalf("Docker services failed to become healthy: %v", err)
	}
	if err := env.discoverPorts(); err != nil {
		t.Fatalf("Failed to discover ports: %v", err)
	}
	return env
}

// SkipIfDockerUnavailable skips the test if Docker is not available.
func SkipIfDockerUnavailable(t *testing.T) {
	t.Helper()
	if !IsDockerAvailable() {
		t.Skip("Docker not available, skipping integration test")
	}
}

// IsDockerAvailable reports whether docker and docker compose can run.
func IsDockerAvailable() bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	if err := exec.Command("docker", "ps").Run(); err != nil {
		return false
	}
	return exec.Command("docker", "compose", "version").Run() == nil
}

func (e *DockerEnv) compose(args ...string) *exec.Cmd {
	cmd := exec.Command("docker", append([]string{"compose", "-f", e.composePath, "-p", e.projectName}, args...)...)
	cmd.Dir = filepath.Dir(e.composePath)
	return cmd
}

func (e *DockerEnv) start() {
	e.t.Helper()

	cmd := e.compose(append([]string{"up", "-d"}, e.services...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	e.t.Logf("Starting Docker services: %v", e.services)
	if err := cmd.Run(); err != nil {
		e.t.Fatalf("Failed to start Docker services: %v", err)
	}
	e.started = true
}

// Stop removes the containers and their volumes.
func (e *DockerEnv) Stop() {
	if !e.started {
		return
	}
	cmd := e.compose("down", "-v")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		e.t.Logf("Warning: failed to stop Docker services: %v", err)
	}
	e.started = false
}

// WaitForHealthy polls container health until every service reports healthy,
// or running for services without a health check.
func (e *DockerEnv) WaitForHealthy(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %v", e.services)
		case <-ticker.C:
			if e.healthy() {
				return nil
			}
		}
	}
}

func (e *DockerEnv) healthy() bool {
	for _, service := range e.services {
		container := fmt.Sprintf("%s-%s-1", e.projectName, service)
		out, err := exec.Command("docker", "inspect", "--format",
			"{{if .State.Health}}{{.State.Health.Status}}{{else}}{{.State.Status}}{{end}}", container).Output()
		if err != nil {
			return false
		}
		switch strings.TrimSpace(string(out)) {
		case "healthy", "running":
		default:
			return false
		}
	}
	return true
}

func (e *DockerEnv) discoverPorts() error {
	e.ports = make(map[string]map[int]int)
	for _, service := range e.services {
		e.ports[service] = make(map[int]int)
		for _, port := range containerPorts[service] {
			out, err := e.compose("port", service, fmt.Sprint(port)).Output()
			if err != nil {
				return fmt.Errorf("failed to get port for %s:%d: %w", service, port, err)
			}
			addr := strings.TrimSpace(string(out))
			i := strings.LastIndex(addr, ":")
			var host int
			if i < 0 {
				return fmt.Errorf("unexpected port output %q", addr)
			}
			if _, err := fmt.Sscanf(addr[i+1:], "%d", &host); err != nil {
				return fmt.Errorf("failed to parse host port from %q: %w", addr, err)
			}
			e.ports[service][port] = host
		}
	}
	return nil
}

// Port returns the host port mapped to a service's container port.
func (e *DockerEnv) Port(service string, containerPort int) int {
	if p, ok := e.ports[service][containerPort]; ok {
		return p
	}
	return containerPort
}

// VaultAddress is the dev-mode Vault server.
func (e *DockerEnv) VaultAddress() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.Port("vault", 8200))
}

// PostgresDSN is a lib/pq DSN for the test database.
func (e *DockerEnv) PostgresDSN() string {
	return fmt.Sprintf("host=127.0.0.1 port=%d user=secretops password=%s dbname=secretops sslmode=disable",
		e.Port("postgres", 5432), PostgresPassword)
}

// MySQLDSN is a go-sql-driver DSN for the test database.
func (e *DockerEnv) MySQLDSN() string {
	return fmt.Sprintf("secretops:%s@tcp(127.0.0.1:%d)/secretops?parseTime=true", MySQLPassword, e.Port("mysql", 3306))
}

// LocalStackEndpoint serves KMS, Secrets Manager, SSM and S3.
func (e *DockerEnv) LocalStackEndpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.Port("localstack", 4566))
}

// findComposeFile walks up from the working directory to the module root.
func findComposeFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, "tests", "integration", "docker-compose.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
