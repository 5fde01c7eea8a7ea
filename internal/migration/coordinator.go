// Package migration moves secrets between secret managers.
//
// A TransitionTask asks for one record to be re-encrypted under another
// secret manager. The Coordinator decrypts the record with the secret
// manager that owns it, encrypts the plaintext with the target, verifies the
// result when the two belong to different families and commits with a
// version-checked write. The pre-migration value is kept as the record's
// backup snapshot so the move can be rolled back.
//
// Tasks are delivered at least once. A redelivered task finds the record
// already migrated and does nothing; of two concurrent deliveries only one
// commit succeeds.
package migration

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/secretops/internal/audit"
	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/metrics"
	"github.com/systmms/secretops/internal/queue"
	"github.com/systmms/secretops/internal/registry"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
)

// Options configures a Coordinator.
type Options struct {
	Secrets *secretstore.Store
	Queue   queue.Queue
	Logger  *logging.Logger

	// VerifyAll verifies every migration, not only cross-family ones.
	VerifyAll bool

	// Now stamps backup snapshots. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator processes transition tasks.
type Coordinator struct {
	secrets   *secretstore.Store
	registry  *registry.Registry
	records   storage.Store
	queue     queue.Queue
	logger    *logging.Logger
	verifyAll bool
	now       func() time.Time

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Secrets == nil {
		return nil, dserrors.ConfigError{Field: "secrets", Message: "migration needs a secret store"}
	}
	c := &Coordinator{
		secrets:   opts.Secrets,
		registry:  opts.Secrets.Registry(),
		records:   opts.Secrets.Registry().Store(),
		queue:     opts.Queue,
		logger:    opts.Logger,
		verifyAll: opts.VerifyAll,
		now:       opts.Now,
		runs:      make(map[string]*Run),
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	c.logger = c.logger.Named("migration")
	if c.now == nil {
		c.now = time.Now
	}
	if c.queue == nil {
		c.queue = queue.NewMemoryQueue(c.logger)
	}
	return c, nil
}

// Queue returns the queue tasks are sent to.
func (c *Coordinator) Queue() queue.Queue {
	return c.queue
}

// LastRun returns the latest run for secretID, or nil.
func (c *Coordinator) LastRun(secretID string) *Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runs[secretID]
}

// Runs returns the latest run of every secret processed so far, oldest first.
func (c *Coordinator) Runs() []*Run {
	c.mu.RLock()
	out := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Process runs one task to a terminal state. Skipped tasks return a nil
// error. A failed task leaves the record untouched and returns the cause.
func (c *Coordinator) Process(ctx context.Context, task secret.TransitionTask) (*Run, error) {
	run := NewRun(task)
	c.mu.Lock()
	c.runs[task.SecretID] = run
	c.mu.Unlock()

	rec, skip, err := c.load(ctx, task)
	if err != nil {
		// Nothing was started; the queue redelivers.
		return run, err
	}
	if skip != "" {
		c.logger.Debug("Skipping transition of secret %s: %s", task.SecretID, skip)
		_ = run.TransitionTo(StateSkipped, skip, nil)
		metrics.ObserveMigration(string(task.FromProviderType), string(task.ToProviderType), string(StateSkipped))
		return run, nil
	}

	_ = run.TransitionTo(StateInProgress, "", nil)
	if err := c.migrate(ctx, run, rec); err != nil {
		_ = run.TransitionTo(StateFailed, "", err)
		metrics.ObserveMigration(string(task.FromProviderType), string(task.ToProviderType), string(StateFailed))
		c.logger.Warn("Transition of %s from %s to %s failed: %v", rec.Name, task.FromProviderType, task.ToProviderType, err)
		return run, err
	}
	metrics.ObserveMigration(string(task.FromProviderType), string(task.ToProviderType), string(StateCommitted))
	return run, nil
}

// load returns the record of task, or a reason to skip it.
func (c *Coordinator) load(ctx context.Context, task secret.TransitionTask) (*secret.EncryptedRecord, string, error) {
	rec, err := c.records.GetRecord(ctx, task.SecretID)
	if dserrors.IsNotFound(err) {
		return nil, "record no longer exists", nil
	}
	if err != nil {
		return nil, "", err
	}
	if rec.TenantID != task.TenantID {
		return nil, "record belongs to another tenant", nil
	}
	if !matches(rec, task.FromProviderType, task.FromConfigID) {
		if matches(rec, task.ToProviderType, task.ToConfigID) {
			return nil, "already migrated", nil
		}
		return nil, fmt.Sprintf("record moved to %s meanwhile", rec.ProviderType), nil
	}
	if rec.IsPathReference() {
		c.logger.Warn("Secret %s references %s path %s and is not migrated", rec.Name, rec.ProviderType, rec.Path)
		return nil, "path reference", nil
	}
	return rec, "", nil
}

// matches compares the owner of rec. LOCAL records match on type alone.
func matches(rec *secret.EncryptedRecord, t secret.ProviderType, configID string) bool {
	if rec.ProviderType != t {
		return false
	}
	return t == secret.Local || rec.ProviderConfigID == configID
}

func (c *Coordinator) migrate(ctx context.Context, run *Run, rec *secret.EncryptedRecord) error {
	task := run.Task

	plaintext, err := c.secrets.Decrypt(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to decrypt %s with %s: %w", rec.Name, rec.ProviderType, err)
	}

	to, cfg, err := c.registry.ProviderForConfig(ctx, task.TenantID, task.ToConfigID)
	if err != nil {
		return err
	}
	if cfg.ProviderType != task.ToProviderType {
		return dserrors.ValidationError{
			Field:   "to_provider_type",
			Value:   string(task.ToProviderType),
			Message: fmt.Sprintf("secret manager %s is %s", cfg.DisplayName, cfg.ProviderType),
		}
	}
	if !to.Capabilities().InlineValues {
		return dserrors.UnsupportedOperationError{
			ProviderType: string(to.Type()),
			Operation:    "migrate",
			Reason:       "secret manager only references existing secrets",
		}
	}

	snap, err := c.secrets.Snapshot(ctx, rec, c.now().UTC())
	if err != nil {
		return err
	}
	candidate, err := c.secrets.Reencrypt(ctx, to, rec, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s with %s: %w", rec.Name, to.Type(), err)
	}
	candidate.BackupSnapshot = snap

	commitReason := ""
	if c.verifyAll || rec.ProviderType.Family() != to.Type().Family() {
		if err := c.verify(ctx, rec, candidate, plaintext); err != nil {
			c.secrets.Discard(ctx, candidate, rec)
			return err
		}
		_ = run.TransitionTo(StateVerified, "decrypted value matches", nil)
	} else {
		commitReason = "not verified: same provider family"
	}

	saved, err := c.records.SaveRecord(ctx, candidate)
	if storage.IsConflict(err) {
		c.discardLost(ctx, rec, candidate)
		return fmt.Errorf("secret %s changed during migration: %w", rec.Name, err)
	}
	if err != nil {
		c.secrets.Discard(ctx, candidate, rec)
		return err
	}
	_ = run.TransitionTo(StateCommitted, commitReason, nil)

	// The new snapshot holds file ciphertext inline, so the old blob can go.
	if rec.BlobID != "" && rec.BlobID != saved.BlobID {
		c.secrets.DeleteBlob(ctx, rec.BlobID)
	}
	if rec.BackupSnapshot != nil {
		c.secrets.ReleaseSnapshot(ctx, saved, rec.BackupSnapshot)
	}
	c.secrets.LogChange(ctx, saved, audit.MsgMigrated)
	c.logger.Info("Migrated %s from %s to %s", saved.Name, rec.ProviderType, saved.ProviderType)
	return nil
}

func (c *Coordinator) verify(ctx context.Context, rec, candidate *secret.EncryptedRecord, want []byte) error {
	got, err := c.secrets.Decrypt(ctx, candidate)
	if err != nil {
		return fmt.Errorf("failed to verify %s with %s: %w", rec.Name, candidate.ProviderType, err)
	}
	if !bytes.Equal(got, want) {
		return dserrors.MigrationVerificationError{
			SecretID: rec.ID,
			From:     string(rec.ProviderType),
			To:       string(candidate.ProviderType),
		}
	}
	return nil
}

// Handle is the queue handler for transition tasks.
func (c *Coordinator) Handle(ctx context.Context, task secret.TransitionTask) error {
	_, err := c.Process(ctx, task)
	return err
}

// Run consumes the queue with workers goroutines until ctx is done.
func (c *Coordinator) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return c.queue.Consume(ctx, c.Handle)
		})
	}
	return g.Wait()
}

// Rollback restores secret id of tenantID to the value held in its backup
// snapshot.
func (c *Coordinator) Rollback(ctx context.Context, tenantID, id string) (*secret.EncryptedRecord, error) {
	rec, err := c.records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, dserrors.NotFoundError{Resource: "secret", ID: id}
	}
	restored, err := c.secrets.RestoreSnapshot(ctx, rec)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Rolled back %s from %s to %s", rec.Name, rec.ProviderType, restored.ProviderType)
	return restored, nil
}

// discardLost cleans up after a lost commit. Remote stores name entries
// after the secret, so a concurrent winner may have written the same entry;
// that value stays.
func (c *Coordinator) discardLost(ctx context.Context, rec, candidate *secret.EncryptedRecord) {
	current, err := c.records.GetRecord(ctx, rec.ID)
	if err == nil && current.ProviderConfigID == candidate.ProviderConfigID && current.CipherRef == candidate.CipherRef {
		c.secrets.DeleteBlob(ctx, candidate.BlobID)
		return
	}
	c.secrets.Discard(ctx, candidate, rec)
}

// drainer is a queue that can be emptied synchronously.
type drainer interface {
	Drain(ctx context.Context, h queue.Handler) (int, error)
}

// Drain processes queued tasks until the queue is empty and returns the
// number of deliveries made.
func (c *Coordinator) Drain(ctx context.Context) (int, error) {
	d, ok := c.queue.(drainer)
	if !ok {
		return 0, dserrors.UnsupportedOperationError{ProviderType: "queue", Operation: "drain", Reason: fmt.Sprintf("%T can not be drained", c.queue)}
	}
	return d.Drain(ctx, c.Handle)
}
