package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// DefaultRoleSessionName is used when AWSOptions.SessionName is empty.
const DefaultRoleSessionName = "secretops"

// AWSOptions selects region, endpoint and credentials for AWS clients.
type AWSOptions struct {
	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	AssumeRoleARN string
	ExternalID    string
	SessionName   string
}

// HasStaticCredentials reports whether an access key pair was supplied.
func (o AWSOptions) HasStaticCredentials() bool {
	return o.AccessKeyID != "" && o.SecretAccessKey != ""
}

// LoadAWS resolves an aws.Config. Static keys take precedence over the
// default chain, and AssumeRoleARN wraps whichever base credentials result.
func LoadAWS(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	if (opts.AccessKeyID == "") != (opts.SecretAccessKey == "") {
		return aws.Config{}, dserrors.ConfigError{
			Field:      "access_key_id",
			Message:    "access_key_id and secret_access_key must be set together",
			Suggestion: "Provide both keys or neither to use the default credential chain",
		}
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.HasStaticCredentials() {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if opts.AssumeRoleARN != "" {
		sessionName := opts.SessionName
		if sessionName == "" {
			sessionName = DefaultRoleSessionName
		}
		stsClient := sts.NewFromConfig(cfg, func(o *sts.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
		})
		roleProvider := stscreds.NewAssumeRoleProvider(stsClient, opts.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if opts.ExternalID != "" {
				o.ExternalID = aws.String(opts.ExternalID)
			}
			o.RoleSessionName = sessionName
		})
		cfg.Credentials = aws.NewCredentialsCache(roleProvider)
	}

	return cfg, nil
}

// AWSFromSettings maps provider settings and credentials onto AWSOptions.
// Recognised settings: region, endpoint, profile, assume_role_arn,
// external_id. Recognised credentials: access_key_id, secret_access_key,
// session_token.
func AWSFromSettings(settings, creds map[string]string) AWSOptions {
	return AWSOptions{
		Region:          settings["region"],
		Endpoint:        settings["endpoint"],
		Profile:         settings["profile"],
		AssumeRoleARN:   settings["assume_role_arn"],
		ExternalID:      settings["external_id"],
		AccessKeyID:     creds["access_key_id"],
		SecretAccessKey: creds["secret_access_key"],
		SessionToken:    creds["session_token"],
	}
}
