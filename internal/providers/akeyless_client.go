package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"
)

// DefaultAkeylessGateway is the public Akeyless API endpoint.
const DefaultAkeylessGateway = "https://api.akeyless.io"

// akeylessTokenTTL is shorter than the 30 minute server lifetime.
const akeylessTokenTTL = 25 * time.Minute

// AkeylessClient abstracts the Akeyless SDK calls used by the provider.
type AkeylessClient interface {
	// Authenticate obtains an access token.
	Authenticate(ctx context.Context) (token string, expiresIn time.Duration, err error)

	// GetSecret returns the value at path. version nil means latest.
	GetSecret(ctx context.Context, token, path string, version *int) (string, error)

	// DescribeItem reports the item type at path without reading its value.
	DescribeItem(ctx context.Context, token, path string) (itemType string, err error)
}

// AkeylessAuth selects an authentication method.
type AkeylessAuth struct {
	// Method is one of api_key, aws_iam, azure_ad, gcp.
	Method          string
	AccessID        string
	AccessKey       string
	AzureADObjectID string
	GCPAudience     string
}

type akeylessSDKClient struct {
	api  *akeyless.APIClient
	auth AkeylessAuth
}

func newAkeylessSDKClient(gatewayURL string, auth AkeylessAuth) *akeylessSDKClient {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: gatewayURL}}
	return &akeylessSDKClient{api: akeyless.NewAPIClient(configuration), auth: auth}
}

func (c *akeylessSDKClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	body := akeyless.NewAuthWithDefaults()
	body.SetAccessId(c.auth.AccessID)

	switch c.auth.Method {
	case "api_key", "":
		body.SetAccessKey(c.auth.AccessKey)
	case "aws_iam":
		body.SetAccessType("aws_iam")
	case "azure_ad":
		body.SetAccessType("azure_ad")
		if c.auth.AzureADObjectID != "" {
			body.SetCloudId(c.auth.AzureADObjectID)
		}
	case "gcp":
		body.SetAccessType("gcp")
		if c.auth.GCPAudience != "" {
			body.SetGcpAudience(c.auth.GCPAudience)
		}
	default:
		return "", 0, fmt.Errorf("unsupported akeyless auth method: %s", c.auth.Method)
	}

	res, httpResp, err := c.api.V2Api.Auth(ctx).Body(*body).Execute()
	if err != nil {
		return "", 0, akeylessError("auth", "", httpResp, err)
	}
	return res.GetToken(), akeylessTokenTTL, nil
}

func (c *akeylessSDKClient) GetSecret(ctx context.Context, token, path string, version *int) (string, error) {
	body := akeyless.NewGetSecretValue([]string{path})
	body.SetToken(token)
	if version != nil {
		body.SetVersion(int32(*version))
	}

	res, httpResp, err := c.api.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return "", akeylessError("get", path, httpResp, err)
	}
	value, ok := res[path]
	if !ok {
		return "", &AkeylessError{Op: "get", Path: path, Status: http.StatusNotFound, Message: "secret not found"}
	}
	return fmt.Sprint(value), nil
}

func (c *akeylessSDKClient) DescribeItem(ctx context.Context, token, path string) (string, error) {
	body := akeyless.NewDescribeItem(path)
	body.SetToken(token)

	res, httpResp, err := c.api.V2Api.DescribeItem(ctx).Body(*body).Execute()
	if err != nil {
		return "", akeylessError("describe", path, httpResp, err)
	}
	return res.GetItemType(), nil
}

func akeylessError(op, path string, resp *http.Response, err error) error {
	ae := &AkeylessError{Op: op, Path: path, Err: err}
	if resp != nil {
		ae.Status = resp.StatusCode
	}
	return ae
}
