package permissions

import (
	"context"
	"fmt"
	"slices"

	"github.com/systmms/secretops/internal/logging"
	"github.com/systmms/secretops/pkg/secret"
)

// Authorizer decides whether a caller may write a secret with the given usage
// restrictions in a tenant.
type Authorizer interface {
	CheckAccess(ctx context.Context, tenantID string, restrictions *secret.UsageRestrictions) (bool, error)
}

// AllowAll grants every request.
type AllowAll struct{}

func (AllowAll) CheckAccess(context.Context, string, *secret.UsageRestrictions) (bool, error) {
	return true, nil
}

// TenantPolicy limits the usage restrictions a tenant may attach to secrets.
type TenantPolicy struct {
	// ReadOnly denies every write.
	ReadOnly bool `yaml:"read_only" json:"read_only"`

	// AllowedAppIDs, when non-empty, lists the only application ids that
	// restrictions may name.
	AllowedAppIDs []string `yaml:"allowed_app_ids" json:"allowed_app_ids"`

	// AllowedEnvTypes works like AllowedAppIDs for environment types.
	AllowedEnvTypes []string `yaml:"allowed_env_types" json:"allowed_env_types"`

	// RequireRestrictions denies secrets without any restriction.
	RequireRestrictions bool `yaml:"require_restrictions" json:"require_restrictions"`
}

// Result is the outcome of a permission check.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// PermissionChecker evaluates tenant policies.
type PermissionChecker struct {
	policies map[string]TenantPolicy
	// fallback applies to tenants without a policy. Nil allows them.
	fallback *TenantPolicy
	logger   *logging.Logger
}

// NewPermissionChecker creates a checker over per-tenant policies.
func NewPermissionChecker(policies map[string]TenantPolicy, fallback *TenantPolicy, logger *logging.Logger) *PermissionChecker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PermissionChecker{policies: policies, fallback: fallback, logger: logger.Named("permissions")}
}

// Check evaluates the policy of tenantID against restrictions.
func (p *PermissionChecker) Check(ctx context.Context, tenantID string, restrictions *secret.UsageRestrictions) *Result {
	policy, ok := p.policies[tenantID]
	if !ok {
		if p.fallback == nil {
			p.logger.Debug("No policy for tenant %s, allowing", tenantID)
			return &Result{Allowed: true, Reason: "No policy configured for tenant"}
		}
		policy = *p.fallback
	}

	if policy.ReadOnly {
		p.logger.Warn("Tenant %s is read-only", tenantID)
		return &Result{Allowed: false, Reason: "Tenant is read-only"}
	}

	if policy.RequireRestrictions && restrictions.Equal(nil) {
		return &Result{Allowed: false, Reason: "Usage restrictions are required"}
	}

	if restrictions != nil {
		if len(policy.AllowedAppIDs) > 0 {
			for _, app := range restrictions.AppIDs {
				if !slices.Contains(policy.AllowedAppIDs, app) {
					p.logger.Warn("Tenant %s may not scope secrets to application %s", tenantID, app)
					return &Result{Allowed: false, Reason: fmt.Sprintf("Application %s not in allowed applications", app)}
				}
			}
		}
		if len(policy.AllowedEnvTypes) > 0 {
			for _, env := range restrictions.EnvTypes {
				if !slices.Contains(policy.AllowedEnvTypes, env) {
					p.logger.Warn("Tenant %s may not scope secrets to environment type %s", tenantID, env)
					return &Result{Allowed: false, Reason: fmt.Sprintf("Environment type %s not in allowed environment types", env)}
				}
			}
		}
	}

	return &Result{Allowed: true, Reason: "Permission granted"}
}

// CheckAccess implements Authorizer.
func (p *PermissionChecker) CheckAccess(ctx context.Context, tenantID string, restrictions *secret.UsageRestrictions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Check(ctx, tenantID, restrictions).Allowed, nil
}
