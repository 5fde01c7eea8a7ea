package providers

import (
	"fmt"
	"regexp"
	"strings"

	dserrors "github.com/systmms/secretops/internal/errors"
)

var (
	azureSecretName = regexp.MustCompile(`^[0-9a-zA-Z-]{1,127}$`)
	awsSecretName   = regexp.MustCompile(`^[A-Za-z0-9/_+=.@-]{1,512}$`)
	gcpSecretID     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)
)

func validateAzureName(name string) error {
	if !azureSecretName.MatchString(name) {
		return nameError(name, "Key Vault names may only contain 0-9, a-z, A-Z and '-' (max 127 characters)")
	}
	return nil
}

func validateAWSName(name string) error {
	if !awsSecretName.MatchString(name) {
		return nameError(name, "Secrets Manager names may only contain alphanumerics and /_+=.@- (max 512 characters)")
	}
	return nil
}

func validateGCPName(name string) error {
	if !gcpSecretID.MatchString(name) {
		return nameError(name, "Secret Manager ids may only contain alphanumerics, '_' and '-' (max 255 characters)")
	}
	return nil
}

func validateVaultName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return nameError(name, "must not be empty")
	case strings.Contains(name, ".."):
		return nameError(name, "must not contain '..'")
	case strings.HasPrefix(name, "/"):
		return nameError(name, "must not start with '/'")
	}
	return nil
}

func nameError(name, msg string) error {
	return dserrors.ValidationError{Field: "name", Value: name, Message: msg}
}

func pathError(path, msg string) error {
	return dserrors.ValidationError{Field: "path", Value: path, Message: msg}
}

// joinPath joins non-empty path segments with '/'.
func joinPath(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// remoteName derives the name used in an external store for a record.
// Records are namespaced by tenant so equal names in two tenants never
// collide.
func remoteName(prefix, tenantID, name string) string {
	if prefix == "" {
		return fmt.Sprintf("%s/%s", tenantID, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, tenantID, name)
}
