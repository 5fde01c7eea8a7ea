package migration

import (
	"context"
	"fmt"
	"slices"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/internal/storage"
	"github.com/systmms/secretops/pkg/secret"
)

// TransitionSecrets queues a task for every record of tenantID encrypted
// with config fromID, targeting config toID. An empty id names the implicit
// LOCAL config; LOCAL sources match every LOCAL record of the tenant. It
// returns the number of tasks queued.
//
// Credential records of secret managers stay where they are when the target
// is VAULT, and a config's own credentials are never moved into it.
func (c *Coordinator) TransitionSecrets(ctx context.Context, tenantID, fromID, toID string) (int, error) {
	from, err := c.registry.Get(ctx, tenantID, fromID)
	if err != nil {
		return 0, err
	}
	to, err := c.registry.Get(ctx, tenantID, toID)
	if err != nil {
		return 0, err
	}
	if from.ID == to.ID && from.ProviderType == to.ProviderType {
		return 0, dserrors.ValidationError{Field: "to", Value: to.DisplayName, Message: "source and target secret manager are the same"}
	}

	q := storage.RecordQuery{TenantID: tenantID, ProviderType: from.ProviderType}
	if from.ProviderType != secret.Local {
		q.ProviderConfigID = from.ID
	}
	recs, err := c.records.ListRecords(ctx, q)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		if skip := c.skipReason(rec, to); skip != "" {
			c.logger.Debug("Not migrating %s: %s", rec.Name, skip)
			continue
		}
		if err := c.enqueue(ctx, rec, to); err != nil {
			return n, err
		}
		n++
	}
	c.logger.Info("Queued %d of %d secrets of tenant %s from %s to %s", n, len(recs), tenantID, from.DisplayName, to.DisplayName)
	return n, nil
}

// TransitionSecret queues secret id of tenantID for migration to config toID.
// It reports whether a task was queued; path references and credential
// records that must stay put are not.
func (c *Coordinator) TransitionSecret(ctx context.Context, tenantID, id, toID string) (bool, error) {
	rec, err := c.records.GetRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.TenantID != tenantID {
		return false, dserrors.NotFoundError{Resource: "secret", ID: id}
	}
	to, err := c.registry.Get(ctx, tenantID, toID)
	if err != nil {
		return false, err
	}
	if matches(rec, to.ProviderType, to.ID) {
		return false, dserrors.ValidationError{Field: "to", Value: to.DisplayName, Message: fmt.Sprintf("%s is already encrypted with %s", rec.Name, to.DisplayName)}
	}
	if skip := c.skipReason(rec, to); skip != "" {
		c.logger.Info("Not migrating %s: %s", rec.Name, skip)
		return false, nil
	}
	return true, c.enqueue(ctx, rec, to)
}

// TransitionAllToLocal queues every record of tenantID that is not LOCAL for
// migration to the implicit LOCAL config.
func (c *Coordinator) TransitionAllToLocal(ctx context.Context, tenantID string) (int, error) {
	recs, err := c.records.ListRecords(ctx, storage.RecordQuery{TenantID: tenantID})
	if err != nil {
		return 0, err
	}
	to, err := c.registry.Get(ctx, tenantID, "")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		if rec.ProviderType == secret.Local {
			continue
		}
		if skip := c.skipReason(rec, to); skip != "" {
			c.logger.Debug("Not migrating %s: %s", rec.Name, skip)
			continue
		}
		if err := c.enqueue(ctx, rec, to); err != nil {
			return n, err
		}
		n++
	}
	c.logger.Info("Queued %d secrets of tenant %s for LOCAL", n, tenantID)
	return n, nil
}

func (c *Coordinator) skipReason(rec *secret.EncryptedRecord, to *secret.SecretManagerConfig) string {
	if rec.IsPathReference() {
		c.logger.Warn("Secret %s references %s path %s and is not migrated", rec.Name, rec.ProviderType, rec.Path)
		return "path reference"
	}
	if rec.Kind == secret.KindProviderCredential {
		if to.ProviderType == secret.Vault {
			return "secret manager credentials are not moved to VAULT"
		}
		if to.ID != "" && slices.Contains(rec.Owners, to.ID) {
			return fmt.Sprintf("credential of %s itself", to.DisplayName)
		}
	}
	return ""
}

func (c *Coordinator) enqueue(ctx context.Context, rec *secret.EncryptedRecord, to *secret.SecretManagerConfig) error {
	return c.queue.Enqueue(ctx, secret.TransitionTask{
		TenantID:         rec.TenantID,
		SecretID:         rec.ID,
		FromProviderType: rec.ProviderType,
		FromConfigID:     rec.ProviderConfigID,
		ToProviderType:   to.ProviderType,
		ToConfigID:       to.ID,
	})
}
