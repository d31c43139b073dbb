// Package install applies a verified update artifact to disk.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/adamancini/keel/internal/appcast"
	"github.com/adamancini/keel/internal/driver"
	"github.com/adamancini/keel/internal/host"
	"github.com/adamancini/keel/internal/log"
	"github.com/adamancini/keel/internal/verify"
)

// ErrNoTarget is returned when no install target is configured.
var ErrNoTarget = errors.New("no install target configured")

// syncFile flushes f to stable storage. Tests replace it.
var syncFile = (*os.File).Sync

// FileInstaller replaces a single file with the artifact payload.
type FileInstaller struct {
	// Target is the file to replace.
	Target string

	// VerifyArgs, when set, runs the new file with these arguments after it
	// is in place; a non-zero exit rolls back.
	VerifyArgs []string

	Logger log.Logger
}

var _ driver.Installer = (*FileInstaller)(nil)

// Install writes the payload beside the target and swaps it in.
func (f *FileInstaller) Install(ctx context.Context, h *host.Host, item appcast.Item, a *verify.Artifact) error {
	if f.Target == "" {
		return ErrNoTarget
	}
	if a == nil || len(a.Data) == 0 {
		return errors.New("empty artifact")
	}
	logger := log.OrNop(f.Logger).WithName("install")

	staged, err := stage(f.Target, a.Data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(staged) }()

	r := NewReplacer(f.Target)
	r.verifyArgs = f.VerifyArgs
	if err := r.Replace(ctx, staged); err != nil {
		return err
	}

	logger.Info("installed update", "target", f.Target, "version", item.Version, "host", h.Identifier())
	return nil
}

// stage writes data to a temp file in target's directory so the final
// rename stays on one filesystem.
func stage(target string, data []byte) (string, error) {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".keel-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := syncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	return name, nil
}

// Replacer swaps a file with rollback support.
type Replacer struct {
	currentPath string
	backupPath  string
	verifyArgs  []string
}

// NewReplacer creates a replacer for currentPath.
func NewReplacer(currentPath string) *Replacer {
	return &Replacer{
		currentPath: currentPath,
		backupPath:  currentPath + ".backup",
	}
}

// Replace moves newFile over the current file.
func (r *Replacer) Replace(ctx context.Context, newFile string) error {
	// 1. Back up the current file, if there is one
	hadCurrent := true
	if err := r.createBackup(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		hadCurrent = false
	}

	undo := func() {
		if hadCurrent {
			_ = r.Rollback()
		} else {
			_ = os.Remove(r.currentPath)
		}
	}

	// 2. Atomic rename
	if err := os.Rename(newFile, r.currentPath); err != nil {
		undo()
		return fmt.Errorf("failed to replace file: %w", err)
	}

	// 3. Executable permissions
	if err := os.Chmod(r.currentPath, 0755); err != nil {
		undo()
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// 4. Verify the new file
	if err := r.verify(ctx, r.currentPath); err != nil {
		undo()
		return fmt.Errorf("new file verification failed: %w", err)
	}

	// 5. Remove backup on success
	_ = os.Remove(r.backupPath)

	return nil
}

// Rollback restores the backup.
func (r *Replacer) Rollback() error {
	if _, err := os.Stat(r.backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", r.backupPath)
	}

	if err := os.Rename(r.backupPath, r.currentPath); err != nil {
		return fmt.Errorf("failed to restore from backup: %w", err)
	}

	return nil
}

func (r *Replacer) createBackup() error {
	src, err := os.Open(r.currentPath)
	if err != nil {
		return fmt.Errorf("failed to open current file: %w", err)
	}
	defer func() { _ = src.Close() }()

	srcInfo, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat current file: %w", err)
	}

	dst, err := os.OpenFile(r.backupPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(r.backupPath) // Clean up partial backup
		return fmt.Errorf("failed to copy file to backup: %w", err)
	}
	// The backup must be on disk before the target is renamed over.
	if err := syncFile(dst); err != nil {
		_ = os.Remove(r.backupPath)
		return fmt.Errorf("failed to sync backup: %w", err)
	}

	return nil
}

// verify runs the file with verifyArgs. No args means nothing to check.
func (r *Replacer) verify(ctx context.Context, path string) error {
	if len(r.verifyArgs) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, path, r.verifyArgs...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", filepath.Base(path), r.verifyArgs, err)
	}
	return nil
}
