package secret

import (
	"fmt"
	"strings"
)

// ProviderType identifies the system that performed an encryption.
type ProviderType string

const (
	Local               ProviderType = "LOCAL"
	KMS                 ProviderType = "KMS"
	Vault               ProviderType = "VAULT"
	CloudSecretsManager ProviderType = "CLOUD_SECRETS_MANAGER"
	CloudKeyVault       ProviderType = "CLOUD_KEY_VAULT"
	EnterpriseVault     ProviderType = "ENTERPRISE_VAULT"
	CloudKMS            ProviderType = "CLOUD_KMS"
	GCPSecretManager    ProviderType = "GCP_SECRET_MANAGER"
)

var allProviderTypes = []ProviderType{
	Local, KMS, Vault, CloudSecretsManager, CloudKeyVault, EnterpriseVault, CloudKMS, GCPSecretManager,
}

// AllProviderTypes returns every known provider type in a stable order.
func AllProviderTypes() []ProviderType {
	out := make([]ProviderType, len(allProviderTypes))
	copy(out, allProviderTypes)
	return out
}

// ParseProviderType converts a user supplied string into a ProviderType.
// Matching is case-insensitive and accepts '-' in place of '_'.
func ParseProviderType(s string) (ProviderType, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, t := range allProviderTypes {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown provider type %q", s)
}

// String returns the wire name of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Valid reports whether p is a known provider type.
func (p ProviderType) Valid() bool {
	for _, t := range allProviderTypes {
		if t == p {
			return true
		}
	}
	return false
}

// Family groups provider types that share a vendor. Migrations across families
// are always verified by a re-decrypt before commit.
func (p ProviderType) Family() string {
	switch p {
	case Local:
		return "local"
	case KMS, CloudSecretsManager:
		return "aws"
	case Vault:
		return "hashicorp"
	case CloudKeyVault:
		return "azure"
	case EnterpriseVault:
		return "enterprise"
	case CloudKMS, GCPSecretManager:
		return "gcp"
	default:
		return "unknown"
	}
}

// StoresRemotely reports whether the provider keeps the value in the external
// system (CipherRef is a locator) rather than returning ciphertext bytes.
func (p ProviderType) StoresRemotely() bool {
	switch p {
	case Vault, CloudSecretsManager, CloudKeyVault, EnterpriseVault, GCPSecretManager:
		return true
	default:
		return false
	}
}

// Kind classifies what a record protects.
type Kind string

const (
	KindSecretText         Kind = "SECRET_TEXT"
	KindConfigFile         Kind = "CONFIG_FILE"
	KindProviderCredential Kind = "PROVIDER_CREDENTIAL"
)

const (
	// GlobalTenant is the reserved tenant whose configs serve as fallback for
	// every other tenant.
	GlobalTenant = "__GLOBAL__"

	// Mask replaces sensitive values in every read-for-display path.
	Mask = "**************"
)

// IllegalNameCharacters lists characters rejected in secret and file names.
const IllegalNameCharacters = "~!@#$%^&*'\"/?<>,;"

// ContainsIllegalCharacters reports whether name uses any rejected character.
func ContainsIllegalCharacters(name string) bool {
	return strings.ContainsAny(name, IllegalNameCharacters)
}

// UsageRestrictions scopes where a secret may be used.
type UsageRestrictions struct {
	AppIDs   []string `json:"app_ids,omitempty" yaml:"app_ids,omitempty"`
	EnvTypes []string `json:"env_types,omitempty" yaml:"env_types,omitempty"`
}

// Equal compares two restriction sets ignoring element order. Nil and empty
// restrictions are equal.
func (u *UsageRestrictions) Equal(other *UsageRestrictions) bool {
	return sameSet(u.apps(), other.apps()) && sameSet(u.envs(), other.envs())
}

func (u *UsageRestrictions) apps() []string {
	if u == nil {
		return nil
	}
	return u.AppIDs
}

func (u *UsageRestrictions) envs() []string {
	if u == nil {
		return nil
	}
	return u.EnvTypes
}

// Clone returns a deep copy.
func (u *UsageRestrictions) Clone() *UsageRestrictions {
	if u == nil {
		return nil
	}
	return &UsageRestrictions{
		AppIDs:   append([]string(nil), u.AppIDs...),
		EnvTypes: append([]string(nil), u.EnvTypes...),
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
