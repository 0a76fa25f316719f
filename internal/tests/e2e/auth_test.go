//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/internal/logger"
	"github.com/trailhead-tours/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	shutdownCancel()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type authResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   struct {
		User struct {
			ID    int    `json:"id"`
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	} `json:"data"`
}

func TestAuthLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("e2e_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	signup := postJSON(t, baseURL+"/api/v1/users/signup", "", map[string]string{
		"name":            "E2E User",
		"email":           email,
		"password":        password,
		"passwordConfirm": password,
	})
	if signup.status != http.StatusOK {
		t.Fatalf("signup status = %d, body %s", signup.status, signup.body)
	}
	var created authResponse
	mustDecode(t, signup.body, &created)
	if created.Token == "" {
		t.Fatalf("expected signup to return a token")
	}
	if created.Data.User.Role != "user" {
		t.Fatalf("expected role user, got %q", created.Data.User.Role)
	}
	if strings.Contains(string(signup.body), "password") {
		t.Fatalf("response leaked password material: %s", signup.body)
	}

	me := getJSON(t, baseURL+"/api/v1/users/me", created.Token)
	if me.status != http.StatusOK {
		t.Fatalf("me status = %d, body %s", me.status, me.body)
	}

	unauthed := getJSON(t, baseURL+"/api/v1/users/me", "")
	if unauthed.status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me status = %d", unauthed.status)
	}

	login := postJSON(t, baseURL+"/api/v1/users/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if login.status != http.StatusOK {
		t.Fatalf("login status = %d, body %s", login.status, login.body)
	}

	badLogin := postJSON(t, baseURL+"/api/v1/users/login", "", map[string]string{
		"email":    email,
		"password": "wrong-password1",
	})
	if badLogin.status != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", badLogin.status)
	}

	// Regular users cannot list accounts.
	listing := getJSON(t, baseURL+"/api/v1/users/", created.Token)
	if listing.status != http.StatusForbidden {
		t.Fatalf("listing as user status = %d", listing.status)
	}

	if err := promoteUserToAdmin(email); err != nil {
		t.Fatalf("promote user: %v", err)
	}
	listing = getJSON(t, baseURL+"/api/v1/users/", created.Token)
	if listing.status != http.StatusOK {
		t.Fatalf("listing as admin status = %d, body %s", listing.status, listing.body)
	}
}

func TestPasswordUpdateInvalidatesOldTokens(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("e2e_pw_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	signup := postJSON(t, baseURL+"/api/v1/users/signup", "", map[string]string{
		"name":            "E2E User",
		"email":           email,
		"password":        password,
		"passwordConfirm": password,
	})
	if signup.status != http.StatusOK {
		t.Fatalf("signup status = %d, body %s", signup.status, signup.body)
	}
	var created authResponse
	mustDecode(t, signup.body, &created)

	// Stale-token detection compares against a change time backdated by
	// one second.
	time.Sleep(1500 * time.Millisecond)

	update := postMethodJSON(t, http.MethodPatch, baseURL+"/api/v1/users/updateMyPassword", created.Token, map[string]string{
		"passwordCurrent": password,
		"password":        "newsecret123!",
		"passwordConfirm": "newsecret123!",
	})
	if update.status != http.StatusOK {
		t.Fatalf("update password status = %d, body %s", update.status, update.body)
	}
	var updated authResponse
	mustDecode(t, update.body, &updated)

	stale := getJSON(t, baseURL+"/api/v1/users/me", created.Token)
	if stale.status != http.StatusUnauthorized {
		t.Fatalf("stale token status = %d", stale.status)
	}
	fresh := getJSON(t, baseURL+"/api/v1/users/me", updated.Token)
	if fresh.status != http.StatusOK {
		t.Fatalf("fresh token status = %d, body %s", fresh.status, fresh.body)
	}
}

type httpResult struct {
	status int
	body   []byte
}

func postJSON(t *testing.T, url, token string, payload any) httpResult {
	t.Helper()
	return postMethodJSON(t, http.MethodPost, url, token, payload)
}

func postMethodJSON(t *testing.T, method, url, token string, payload any) httpResult {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doRequest(t, req)
}

func getJSON(t *testing.T, url, token string) httpResult {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doRequest(t, req)
}

func doRequest(t *testing.T, req *http.Request) httpResult {
	t.Helper()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return httpResult{status: resp.StatusCode, body: body}
}

func mustDecode(t *testing.T, data []byte, dest any) {
	t.Helper()
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("decode response %s: %v", data, err)
	}
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", buildPostgresURL(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.Exec(`UPDATE users SET role = 'admin' WHERE email = $1`, email)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("expected to promote 1 user, updated %d", affected)
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	dsn := buildPostgresURL(cfg)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	dsn := buildPostgresURL(cfg)
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func buildPostgresURL(cfg config.Config) string {
	sslmode := "disable"
	if cfg.Database.UseSSL {
		sslmode = "require"
	}
	host := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		host,
		cfg.Database.DBName,
		sslmode,
	)
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "trailhead")
	_ = os.Setenv("DB_PASSWORD", "trailhead")
	_ = os.Setenv("DB_NAME", "trailhead")
	_ = os.Setenv("DB_USE_SSL", "false")

	cfg := config.LoadConfig()
	lg, err := logger.Init(logger.Config{Level: "info"})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(context.Background(), cfg, lg.Sugar())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
