package e2e_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/internal/migration"
	"github.com/systmms/secretops/internal/providers"
	"github.com/systmms/secretops/internal/queue"
	"github.com/systmms/secretops/pkg/provider"
	"github.com/systmms/secretops/pkg/secret"
	"github.com/systmms/secretops/pkg/secretstore"
	"github.com/systmms/secretops/tests/fakes"
	"github.com/systmms/secretops/tests/testutil"
)

const tenant = "t1"

// world runs the real LOCAL, VAULT, KMS and CLOUD_SECRETS_MANAGER providers
// against fake SDK clients.
type world struct {
	*testutil.Stack
	Log   *testutil.TestLogger
	Vault *fakes.FakeVaultLogical
	KMS   *gatedKMS
	CSM   *fakes.FakeSecretsManagerClient
	Queue *queue.MemoryQueue
	Coord *migration.Coordinator
}

func newWorld(t *testing.T) *world {
	t.Helper()

	log := testutil.NewTestLogger(t)
	w := &world{
		Stack: testutil.NewStack(t, testutil.WithLogger(log.Logger)),
		Log:   log,
		Vault: fakes.NewFakeVaultLogical(),
		KMS:   &gatedKMS{FakeKMSClient: fakes.NewFakeKMSClient("alias/secretops")},
		CSM:   fakes.NewFakeSecretsManagerClient(),
	}

	w.Factories.RegisterFactory(secret.Vault, func(cfg provider.Config, deps providers.Deps) (provider.Provider, error) {
		p, err := providers.NewVaultProvider(cfg, deps, providers.WithVaultLogical(w.Vault))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	w.Factories.RegisterFactory(secret.KMS, func(cfg provider.Config, deps providers.Deps) (provider.Provider, error) {
		p, err := providers.NewAWSKMSProvider(cfg, deps, providers.WithKMSClient(w.KMS))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	w.Factories.RegisterFactory(secret.CloudSecretsManager, func(cfg provider.Config, deps providers.Deps) (provider.Provider, error) {
		p, err := providers.NewAWSSecretsManagerProvider(cfg, deps, providers.WithSecretsManagerClient(w.CSM))
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	w.Queue = queue.NewMemoryQueue(logging.Nop())
	w.Queue.RedeliveryDelay = 0
	coord, err := migration.New(migration.Options{Secrets: w.Secrets, Queue: w.Queue, Logger: log.Logger})
	require.NoError(t, err)
	w.Coord = coord
	return w
}

func (w *world) save(t *testing.T, name, value string) string {
	t.Helper()
	id, err := w.Secrets.SaveSecret(context.Background(), tenant, secretstore.SecretInput{Name: name, Value: value})
	require.NoError(t, err)
	return id
}

func (w *world) decrypt(t *testing.T, id string) string {
	t.Helper()
	v, err := w.Secrets.DecryptSecret(context.Background(), tenant, id)
	require.NoError(t, err)
	return v
}

// gatedKMS holds the first n Decrypt calls until all n have arrived, so
// concurrent readers observe the same record version.
type gatedKMS struct {
	*fakes.FakeKMSClient

	mu      sync.Mutex
	waiting int
	limit   int
	open    chan struct{}
}

// Hold arms the gate for the next n Decrypt calls.
func (g *gatedKMS) Hold(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiting, g.limit, g.open = 0, n, make(chan struct{})
}

func (g *gatedKMS) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	g.mu.Lock()
	open := g.open
	if open != nil {
		g.waiting++
		if g.waiting == g.limit {
			close(open)
			g.open = nil
		}
	}
	g.mu.Unlock()

	if open != nil {
		select {
		case <-open:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.FakeKMSClient.Decrypt(ctx, params, optFns...)
}
