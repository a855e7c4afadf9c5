package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("server port = %q", cfg.ServerPort)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("db driver = %q", cfg.DBDriver)
	}
	if cfg.EventChannel != "chat.events" {
		t.Errorf("event channel = %q", cfg.EventChannel)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("worker concurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.AuthSecret != "" {
		t.Errorf("auth secret should default empty, got %q", cfg.AuthSecret)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("AUTH_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.DBDriver != "mysql" || cfg.AuthSecret != "s3cret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}
