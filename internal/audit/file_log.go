package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/systmms/secretops/internal/logging"
)

const fileTimeLayout = "20060102-150405.000000000"

// FileLog writes one JSON file per entry under
// <baseDir>/changelog/<tenant>/<secret>/.
type FileLog struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
	logger  *logging.Logger
}

// NewFileLog creates a file-backed change log.
func NewFileLog(baseDir string, logger *logging.Logger) *FileLog {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileLog{baseDir: baseDir, now: time.Now, logger: logger.Named("audit")}
}

// DefaultDir returns the default change-log directory.
func DefaultDir() string {
	if dir := os.Getenv("SECRETOPS_AUDIT_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "secretops")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "secretops")
	}
	return filepath.Join(os.TempDir(), "secretops")
}

func (fl *FileLog) secretDir(tenantID, secretID string) string {
	return filepath.Join(fl.baseDir, "changelog", sanitizeFilename(tenantID), sanitizeFilename(secretID))
}

func (fl *FileLog) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepare(&entry, fl.now())

	fl.mu.Lock()
	defer fl.mu.Unlock()

	dir := fl.secretDir(entry.TenantID, entry.SecretID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create change-log directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal change-log entry: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format(fileTimeLayout), entry.ID)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write change-log entry: %w", err)
	}
	return nil
}

func (fl *FileLog) List(ctx context.Context, tenantID, secretID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	dir := fl.secretDir(tenantID, secretID)
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read change-log directory: %w", err)
	}

	entries := []Entry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			fl.logger.Warn("Skipping unreadable change-log entry %s: %v", file.Name(), err)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			fl.logger.Warn("Skipping invalid change-log entry %s: %v", file.Name(), err)
			continue
		}
		entries = append(entries, entry)
	}

	newestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (fl *FileLog) Count(ctx context.Context, tenantID, secretID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	files, err := os.ReadDir(fl.secretDir(tenantID, secretID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read change-log directory: %w", err)
	}
	n := 0
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}

func (fl *FileLog) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()

	root := filepath.Join(fl.baseDir, "changelog")
	cutoff := fl.now().Add(-olderThan)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		name := filepath.Base(path)
		if len(name) < len(fileTimeLayout) {
			return nil
		}
		ts, err := time.Parse(fileTimeLayout, name[:len(fileTimeLayout)])
		if err != nil || !ts.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			fl.logger.Warn("Failed to remove old change-log entry %s: %v", path, err)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// sanitizeFilename replaces characters that might be problematic in filenames.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
		"..", "_",
	)
	if name == "" {
		return "_"
	}
	return replacer.Replace(name)
}
