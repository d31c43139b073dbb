package config

import (
	"strings"
	"testing"
	"time"

	"github.com/adamancini/keel/internal/download"
	"github.com/adamancini/keel/internal/log"
)

func validConfig() *Config {
	return &Config{
		Bundle:        "/opt/example",
		CheckInterval: time.Hour,
		Log:           log.NewOptions(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "file feed",
			mutate: func(c *Config) { c.FeedURL = "file:///srv/appcast.yaml" },
		},
		{
			name: "s3 feed with endpoint",
			mutate: func(c *Config) {
				c.FeedURL = "s3://releases/appcast.yaml"
				c.S3 = download.S3Config{Endpoint: "minio.local:9000"}
			},
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.CheckInterval = 0 },
			wantErr: []string{"check_interval"},
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.FeedURL = "ftp://example.com/appcast.yaml" },
			wantErr: []string{"feed_url", "ftp"},
		},
		{
			name:    "s3 feed without endpoint",
			mutate:  func(c *Config) { c.FeedURL = "s3://releases/appcast.yaml" },
			wantErr: []string{"s3.endpoint"},
		},
		{
			name:    "secret without access key",
			mutate:  func(c *Config) { c.S3.SecretKey = "secret" },
			wantErr: []string{"s3.access_key"},
		},
		{
			name:    "verify args without target",
			mutate:  func(c *Config) { c.Install.VerifyArgs = []string{"--version"} },
			wantErr: []string{"install.target"},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: []string{"log", "loud"},
		},
		{
			name: "all problems reported",
			mutate: func(c *Config) {
				c.CheckInterval = -time.Second
				c.FeedURL = "gopher://example.com"
				c.Log.Format = "xml"
			},
			wantErr: []string{"check_interval", "feed_url", "xml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}
