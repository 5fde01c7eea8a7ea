// Package fakes provides hand-written test doubles for the SDK clients and
// collaborators used by secretops.
//
// Every fake keeps its state in memory and embeds Faults, so a test can
// queue errors per operation and count calls:
//
//	sm := fakes.NewFakeSecretsManagerClient()
//	sm.FailNext("PutSecretValue", fakes.AWSThrottlingError(), fakes.AWSThrottlingError())
//	p, _ := providers.NewAWSSecretsManagerProvider(cfg, deps, providers.WithSecretsManagerClient(sm))
//	// ...
//	assert.Equal(t, 3, sm.Calls("PutSecretValue"))
package fakes
