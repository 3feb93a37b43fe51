package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("ENCRYPTION_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Storage.Backend)
	}
	if !cfg.Encryption.Enabled {
		t.Error("expected encryption enabled by default")
	}
	if cfg.Attachments.MaxBytes != 10<<20 {
		t.Errorf("expected 10MiB attachment limit, got %d", cfg.Attachments.MaxBytes)
	}
	if cfg.App.Addr() != "0.0.0.0:3000" {
		t.Errorf("unexpected addr %q", cfg.App.Addr())
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Postgres:    PostgresConfig{DSN: "postgres://localhost/tickets"},
			Storage:     StorageConfig{Backend: BackendPostgres},
			Attachments: AttachmentConfig{Backend: AttachmentsFilesystem, MaxBytes: 1024, MaxFiles: 2},
			Encryption:  EncryptionConfig{Enabled: true, Key: "k"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown storage backend", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, wantErr: true},
		{name: "unknown attachment backend", mutate: func(c *Config) { c.Attachments.Backend = "s3" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Postgres.DSN = "" }, wantErr: true},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Postgres.DSN = ""; c.Storage.Backend = BackendSQLite }},
		{name: "encryption without key", mutate: func(c *Config) { c.Encryption.Key = "" }, wantErr: true},
		{name: "plaintext mode without key", mutate: func(c *Config) { c.Encryption = EncryptionConfig{} }},
		{name: "zero max bytes", mutate: func(c *Config) { c.Attachments.MaxBytes = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
