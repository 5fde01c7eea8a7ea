package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/secretops/internal/errors"
	"github.com/systmms/secretops/pkg/secret"
)

// awsCredentials are the sensitive fields shared by the AWS backed types.
var awsCredentials = []string{"access_key_id", "secret_access_key", "session_token"}

// credentialFields lists, per provider type, the fields that must be supplied
// as credentials and are never accepted in Settings.
var credentialFields = map[secret.ProviderType][]string{
	secret.Local:               nil,
	secret.KMS:                 awsCredentials,
	secret.CloudSecretsManager: awsCredentials,
	secret.Vault:               {"token", "secret_id"},
	secret.CloudKeyVault:       {"client_secret"},
	secret.EnterpriseVault:     {"access_key"},
	secret.CloudKMS:            {"credentials_json"},
	secret.GCPSecretManager:    {"credentials_json"},
}

const awsProperties = `
		"region": {"type": "string"},
		"endpoint": {"type": "string"},
		"profile": {"type": "string"},
		"assume_role_arn": {"type": "string", "pattern": "^arn:"},
		"external_id": {"type": "string"}`

const gcpProperties = `
		"credentials_file": {"type": "string"},
		"impersonate_service_account": {"type": "string"},
		"endpoint": {"type": "string"}`

var settingsSchemas = map[secret.ProviderType]string{
	secret.Local: `{
	"type": "object",
	"maxProperties": 0
}`,
	secret.KMS: `{
	"type": "object",
	"required": ["key_id"],
	"properties": {
		"key_id": {"type": "string", "minLength": 1},` + awsProperties + `
	},
	"additionalProperties": false
}`,
	secret.CloudSecretsManager: `{
	"type": "object",
	"properties": {
		"prefix": {"type": "string"},
		"kms_key_id": {"type": "string"},` + awsProperties + `
	},
	"additionalProperties": false
}`,
	secret.Vault: `{
	"type": "object",
	"properties": {
		"address": {"type": "string", "pattern": "^https?://"},
		"namespace": {"type": "string"},
		"auth_method": {"enum": ["token", "approle"]},
		"role_id": {"type": "string"},
		"engine": {"type": "string", "minLength": 1},
		"engine_version": {"enum": ["1", "2"]},
		"base_path": {"type": "string"}
	},
	"additionalProperties": false
}`,
	secret.CloudKeyVault: `{
	"type": "object",
	"required": ["vault_url"],
	"properties": {
		"vault_url": {"type": "string", "pattern": "^https://"},
		"name_prefix": {"type": "string"},
		"purge_on_delete": {"enum": ["true", "false"]},
		"tenant_id": {"type": "string"},
		"client_id": {"type": "string"},
		"use_managed_identity": {"enum": ["true", "false"]},
		"user_assigned_identity_id": {"type": "string"}
	},
	"additionalProperties": false
}`,
	secret.EnterpriseVault: `{
	"type": "object",
	"required": ["access_id"],
	"properties": {
		"access_id": {"type": "string", "minLength": 1},
		"gateway_url": {"type": "string", "pattern": "^https?://"},
		"auth_method": {"enum": ["api_key", "aws_iam", "azure_ad", "gcp"]},
		"azure_ad_object_id": {"type": "string"},
		"gcp_audience": {"type": "string"}
	},
	"additionalProperties": false
}`,
	secret.CloudKMS: `{
	"type": "object",
	"anyOf": [
		{"required": ["key_name"]},
		{"required": ["project_id", "key_ring", "crypto_key"]}
	],
	"properties": {
		"key_name": {"type": "string", "pattern": "^projects/[^/]+/locations/[^/]+/keyRings/[^/]+/cryptoKeys/[^/]+$"},
		"project_id": {"type": "string", "minLength": 1},
		"location": {"type": "string"},
		"key_ring": {"type": "string", "minLength": 1},
		"crypto_key": {"type": "string", "minLength": 1},` + gcpProperties + `
	},
	"additionalProperties": false
}`,
	secret.GCPSecretManager: `{
	"type": "object",
	"properties": {
		"project_id": {"type": "string"},
		"name_prefix": {"type": "string"},` + gcpProperties + `
	},
	"additionalProperties": false
}`,
}

var (
	compileOnce sync.Once
	compiled    map[secret.ProviderType]*gojsonschema.Schema
	compileErr  error
)

func schemas() (map[secret.ProviderType]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[secret.ProviderType]*gojsonschema.Schema, len(settingsSchemas))
		for t, src := range settingsSchemas {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("invalid settings schema for %s: %w", t, err)
				return
			}
			compiled[t] = s
		}
	})
	return compiled, compileErr
}

// CredentialFields returns the credential field names a provider type
// accepts.
func CredentialFields(t secret.ProviderType) []string {
	return append([]string(nil), credentialFields[t]...)
}

// ValidateSettings checks settings and credential names against the rules of
// provider type t.
func ValidateSettings(t secret.ProviderType, settings, credentials map[string]string) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	schema, ok := all[t]
	if !ok {
		return dserrors.ValidationError{Field: "provider_type", Value: string(t), Message: "unknown provider type"}
	}

	allowed := credentialFields[t]
	for key := range settings {
		if contains(allowed, key) {
			return dserrors.ValidationError{Field: "settings." + key, Message: "sensitive fields must be supplied as credentials"}
		}
	}
	for key := range credentials {
		if !contains(allowed, key) {
			return dserrors.ValidationError{
				Field:   "credentials." + key,
				Message: fmt.Sprintf("%s accepts credentials %s", t, describe(allowed)),
			}
		}
	}

	doc := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		doc[k] = v
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		sort.Strings(msgs)
		return dserrors.ValidationError{Field: "settings", Message: strings.Join(msgs, "; ")}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func describe(fields []string) string {
	if len(fields) == 0 {
		return "none"
	}
	return strings.Join(fields, ", ")
}
