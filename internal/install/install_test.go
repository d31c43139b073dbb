package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamancini/keel/internal/appcast"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/verify"
)

const workingScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "example version 1.0.0"
	exit 0
fi
exit 1
`

const newScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
	echo "example version 1.1.0"
	exit 0
fi
exit 1
`

const brokenScript = `#!/bin/sh
exit 1
`

func testHost(t *testing.T) *host.Host {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Example.app")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Info.yaml"), []byte("identifier: com.example\nversion: 1.0.0\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	h, err := host.New(dir)
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	return h
}

func TestNewReplacer(t *testing.T) {
	r := NewReplacer("/usr/local/bin/example")

	if r.currentPath != "/usr/local/bin/example" {
		t.Errorf("currentPath = %s, want /usr/local/bin/example", r.currentPath)
	}
	if r.backupPath != "/usr/local/bin/example.backup" {
		t.Errorf("backupPath = %s, want /usr/local/bin/example.backup", r.backupPath)
	}
}

func TestCreateBackup(t *testing.T) {
	current := filepath.Join(t.TempDir(), "example")
	content := []byte("original content")
	if err := os.WriteFile(current, content, 0755); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	r := NewReplacer(current)
	if err := r.createBackup(); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}

	backup, err := os.ReadFile(r.backupPath)
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if string(backup) != string(content) {
		t.Errorf("Backup content mismatch: got %s, want %s", backup, content)
	}

	info, err := os.Stat(r.backupPath)
	if err != nil {
		t.Fatalf("Failed to stat backup: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("Backup permissions = %o, want 0755", info.Mode().Perm())
	}
}

func TestCreateBackup_Synced(t *testing.T) {
	current := filepath.Join(t.TempDir(), "example")
	if err := os.WriteFile(current, []byte("original content"), 0755); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	r := NewReplacer(current)

	var synced []string
	prev := syncFile
	t.Cleanup(func() { syncFile = prev })
	syncFile = func(f *os.File) error {
		synced = append(synced, f.Name())
		return f.Sync()
	}

	if err := r.createBackup(); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}
	if len(synced) != 1 || synced[0] != r.backupPath {
		t.Errorf("synced = %v, want [%s]", synced, r.backupPath)
	}

	// A failed sync leaves no partial backup behind.
	syncFile = func(*os.File) error { return errors.New("disk full") }
	if err := r.createBackup(); err == nil {
		t.Fatal("createBackup() expected error when sync fails")
	}
	if _, err := os.Stat(r.backupPath); !os.IsNotExist(err) {
		t.Errorf("backup still present after failed sync: %v", err)
	}
}

func TestCreateBackup_FileNotFound(t *testing.T) {
	r := NewReplacer("/path/that/does/not/exist")
	if err := r.createBackup(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("createBackup() error = %v, want not-exist", err)
	}
}

func TestRollback(t *testing.T) {
	current := filepath.Join(t.TempDir(), "example")
	if err := os.WriteFile(current, []byte(workingScript), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReplacer(current)
	if err := r.createBackup(); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}
	if err := os.WriteFile(current, []byte(brokenScript), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := r.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	restored, err := os.ReadFile(current)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(restored) != workingScript {
		t.Error("Restored content mismatch")
	}
	if _, err := os.Stat(r.backupPath); !os.IsNotExist(err) {
		t.Error("Backup should not exist after rollback")
	}
}

func TestRollback_NoBackup(t *testing.T) {
	r := NewReplacer(filepath.Join(t.TempDir(), "example"))
	if err := r.Rollback(); err == nil {
		t.Error("Expected error when backup doesn't exist")
	}
}

func TestFileInstaller(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tests := []struct {
		name        string
		existing    string
		payload     string
		verifyArgs  []string
		wantErr     bool
		wantContent string
	}{
		{"replace and verify", workingScript, newScript, []string{"--version"}, false, newScript},
		{"replace without verification", workingScript, brokenScript, nil, false, brokenScript},
		{"broken payload rolls back", workingScript, brokenScript, []string{"--version"}, true, workingScript},
		{"fresh install", "", newScript, []string{"--version"}, false, newScript},
		{"fresh install broken is removed", "", brokenScript, []string{"--version"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			target := filepath.Join(dir, "example")
			if tt.existing != "" {
				if err := os.WriteFile(target, []byte(tt.existing), 0755); err != nil {
					t.Fatalf("write: %v", err)
				}
			}

			inst := &FileInstaller{Target: target, VerifyArgs: tt.verifyArgs}
			err := inst.Install(context.Background(), testHost(t), appcast.Item{Version: "1.1.0"}, &verify.Artifact{Data: []byte(tt.payload)})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Install() error = %v, wantErr %v", err, tt.wantErr)
			}

			content, err := os.ReadFile(target)
			switch {
			case tt.wantContent == "" && !os.IsNotExist(err):
				t.Errorf("target should not exist, read err = %v", err)
			case tt.wantContent != "" && string(content) != tt.wantContent:
				t.Errorf("target content = %q, want %q", content, tt.wantContent)
			}

			if tt.wantContent != "" {
				info, err := os.Stat(target)
				if err != nil {
					t.Fatalf("stat: %v", err)
				}
				if info.Mode().Perm()&0111 == 0 {
					t.Error("target should be executable")
				}
			}

			// Neither staging files nor backups are left behind.
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			for _, e := range entries {
				if e.Name() != "example" {
					t.Errorf("leftover file %s", e.Name())
				}
			}
		})
	}
}

func TestFileInstallerRequiresTarget(t *testing.T) {
	inst := &FileInstaller{}
	err := inst.Install(context.Background(), testHost(t), appcast.Item{}, &verify.Artifact{Data: []byte("x")})
	if !errors.Is(err, ErrNoTarget) {
		t.Errorf("Install() error = %v, want ErrNoTarget", err)
	}
}

func TestFileInstallerRejectsEmptyArtifact(t *testing.T) {
	inst := &FileInstaller{Target: filepath.Join(t.TempDir(), "example")}
	err := inst.Install(context.Background(), testHost(t), appcast.Item{}, &verify.Artifact{})
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("Install() error = %v, want empty artifact error", err)
	}
}

func TestFileInstallerMissingDirectory(t *testing.T) {
	inst := &FileInstaller{Target: filepath.Join(t.TempDir(), "missing", "example")}
	err := inst.Install(context.Background(), testHost(t), appcast.Item{}, &verify.Artifact{Data: []byte("x")})
	if err == nil {
		t.Error("expected error staging into a missing directory")
	}
}
