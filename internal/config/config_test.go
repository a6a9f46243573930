package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/fleet")
	os.Setenv("JWT_SECRET", "test-secret")
	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MySQL.DSN == "" {
		t.Error("MySQL DSN should not be empty")
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}

	if cfg.Fleet.StalenessSec != 90 {
		t.Errorf("Expected default staleness 90s, got %d", cfg.Fleet.StalenessSec)
	}

	if cfg.Oracle.TimeoutSec != 15 {
		t.Errorf("Expected default oracle timeout 15s, got %d", cfg.Oracle.TimeoutSec)
	}
}

func TestLoad_MissingMySQLDSN(t *testing.T) {
	os.Unsetenv("MYSQL_DSN")
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when MYSQL_DSN is missing")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/fleet")
	os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("MYSQL_DSN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("MYSQL_DSN", "custom:dsn@tcp(localhost:3306)/custom")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("REDIS_ADDR", "redis.example.com:6379")
	os.Setenv("FLEET_STALENESS_SEC", "120")
	os.Setenv("ORACLE_BASE_URL", "https://oracle.example.com")
	os.Setenv("HTTP_ADDR", ":9090")

	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("FLEET_STALENESS_SEC")
		os.Unsetenv("ORACLE_BASE_URL")
		os.Unsetenv("HTTP_ADDR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Addr != "redis.example.com:6379" {
		t.Errorf("Expected custom Redis addr, got %s", cfg.Redis.Addr)
	}

	if cfg.Fleet.StalenessSec != 120 {
		t.Errorf("Expected staleness 120, got %d", cfg.Fleet.StalenessSec)
	}

	if cfg.Oracle.BaseURL != "https://oracle.example.com" {
		t.Errorf("Expected custom oracle base URL, got %s", cfg.Oracle.BaseURL)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("Expected HTTPAddr :9090, got %s", cfg.HTTPAddr)
	}
}

func TestLoadFromINI(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "fleetd.ini")
	content := `[mysql]
dsn = ini:dsn@tcp(localhost:3306)/fleet

[jwt]
secret = ini-secret

[fleet]
staleness_sec = 45

[offline_sweeper]
enabled = false
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ini file: %v", err)
	}

	os.Unsetenv("MYSQL_DSN")
	os.Unsetenv("JWT_SECRET")

	cfg, err := LoadFromINI(iniPath)
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.MySQL.DSN != "ini:dsn@tcp(localhost:3306)/fleet" {
		t.Errorf("Expected INI DSN, got %s", cfg.MySQL.DSN)
	}

	if cfg.Fleet.StalenessSec != 45 {
		t.Errorf("Expected staleness 45 from INI, got %d", cfg.Fleet.StalenessSec)
	}

	if cfg.OfflineSweeper.Enabled {
		t.Error("Expected offline sweeper disabled from INI")
	}
}

func TestLoadFromINI_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "fleetd.ini")
	content := `[mysql]
dsn = ini:dsn@tcp(localhost:3306)/fleet

[jwt]
secret = ini-secret

[http]
addr = :7070
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write ini file: %v", err)
	}

	os.Setenv("HTTP_ADDR", ":6060")
	defer os.Unsetenv("HTTP_ADDR")

	cfg, err := LoadFromINI(iniPath)
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.HTTPAddr != ":6060" {
		t.Errorf("Environment should override INI, got %s", cfg.HTTPAddr)
	}
}
