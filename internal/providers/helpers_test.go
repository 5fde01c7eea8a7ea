package providers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/smithy-go"
	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/secretops/internal/errors"
)

func TestExtractKey(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"user":"app","port":5432,"tls":true,"empty":null,"nested":{"inner":{"k":"v"}},"list":[1,2]}`)

	tests := []struct {
		key      string
		want     string
		notFound bool
		invalid  bool
	}{
		{key: "user", want: "app"},
		{key: "port", want: "5432"},
		{key: "tls", want: "true"},
		{key: "empty", want: ""},
		{key: ".nested.inner.k", want: "v"},
		{key: ".nested.inner", want: `{"k":"v"}`},
		{key: "list", want: "[1,2]"},
		{key: "absent", notFound: true},
		{key: ".user.deeper", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			got, err := extractKey(doc, tt.key, "ref")
			switch {
			case tt.notFound:
				assert.True(t, dserrors.IsNotFound(err))
			case tt.invalid:
				var vErr dserrors.ValidationError
				assert.ErrorAs(t, err, &vErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(got))
			}
		})
	}

	_, err := extractKey([]byte("plain"), "k", "ref")
	var vErr dserrors.ValidationError
	assert.ErrorAs(t, err, &vErr)

	raw, err := selectKey([]byte("plain"), "", "ref")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(raw))
}

func TestNaming(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b/c", joinPath("/a/", "", "b", "/c"))
	assert.Equal(t, "secretops/t1/db", remoteName("secretops", "t1", "db"))
	assert.Equal(t, "t1/db", remoteName("", "t1", "db"))

	tests := []struct {
		name     string
		validate func(string) error
		ok       []string
		bad      []string
	}{
		{"azure", validateAzureName, []string{"db-pass", "A1"}, []string{"db_pass", "a.b", ""}},
		{"aws", validateAWSName, []string{"team/db+x=y.z@w-1_"}, []string{"has space", ""}},
		{"gcp", validateGCPName, []string{"db_pass-1"}, []string{"a/b", "a.b", ""}},
		{"vault", validateVaultName, []string{"a/b"}, []string{"", "../x", "/abs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, n := range tt.ok {
				assert.NoError(t, tt.validate(n), n)
			}
			for _, n := range tt.bad {
				assert.Error(t, tt.validate(n), n)
			}
		})
	}
}

func TestParseAkeylessReference(t *testing.T) {
	t.Parallel()

	path, version, key, err := parseAkeylessReference("prod/db@v3#password")
	require.NoError(t, err)
	assert.Equal(t, "/prod/db", path)
	require.NotNil(t, version)
	assert.Equal(t, 3, *version)
	assert.Equal(t, "password", key)

	path, version, key, err = parseAkeylessReference("/team@vendor/key")
	require.NoError(t, err)
	assert.Equal(t, "/team@vendor/key", path)
	assert.Nil(t, version)
	assert.Empty(t, key)

	_, _, _, err = parseAkeylessReference("#key")
	assert.Error(t, err)
}

func TestClassifiers(t *testing.T) {
	t.Parallel()

	type outcome int
	const (
		raw outcome = iota
		notFound
		transient
	)

	tests := []struct {
		name     string
		classify func(error, string, string) error
		err      error
		want     outcome
	}{
		{"aws not found", classifyAWS, &smithy.GenericAPIError{Code: "ResourceNotFoundException"}, notFound},
		{"aws throttled", classifyAWS, &smithy.GenericAPIError{Code: "ThrottlingException"}, transient},
		{"aws denied", classifyAWS, &smithy.GenericAPIError{Code: "AccessDeniedException"}, raw},
		{"azure 404", classifyAzure, &azcore.ResponseError{StatusCode: http.StatusNotFound}, notFound},
		{"azure 503", classifyAzure, &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}, transient},
		{"azure 403", classifyAzure, &azcore.ResponseError{StatusCode: http.StatusForbidden}, raw},
		{"googleapi 404", classifyGCP, &googleapi.Error{Code: http.StatusNotFound}, notFound},
		{"googleapi 429", classifyGCP, &googleapi.Error{Code: http.StatusTooManyRequests}, transient},
		{"grpc not found", classifyGCP, status.Error(codes.NotFound, "x"), notFound},
		{"grpc unavailable", classifyGCP, status.Error(codes.Unavailable, "x"), transient},
		{"grpc invalid", classifyGCP, status.Error(codes.InvalidArgument, "x"), raw},
		{"vault 404", classifyVault, &vault.ResponseError{StatusCode: http.StatusNotFound}, notFound},
		{"vault 500", classifyVault, &vault.ResponseError{StatusCode: http.StatusInternalServerError}, transient},
		{"vault 400", classifyVault, &vault.ResponseError{StatusCode: http.StatusBadRequest}, raw},
		{"akeyless 404", classifyAkeyless, &AkeylessError{Op: "get", Status: http.StatusNotFound}, notFound},
		{"akeyless 408", classifyAkeyless, &AkeylessError{Op: "get", Status: http.StatusRequestTimeout}, transient},
		{"akeyless no status", classifyAkeyless, &AkeylessError{Op: "auth", Message: "bad key"}, raw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.classify(tt.err, "secret", "id-1")
			switch tt.want {
			case notFound:
				assert.True(t, dserrors.IsNotFound(got))
			case transient:
				var te dserrors.TransientError
				assert.ErrorAs(t, got, &te)
			default:
				assert.Same(t, tt.err, got)
			}
		})
	}
}

func TestClassifyContextErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("operation error: %w", context.DeadlineExceeded)
	for _, classify := range []func(error, string, string) error{classifyAWS, classifyAzure, classifyGCP, classifyVault, classifyAkeyless} {
		assert.Equal(t, context.DeadlineExceeded, classify(wrapped, "secret", "x"))
		assert.Equal(t, context.Canceled, classify(fmt.Errorf("w: %w", context.Canceled), "secret", "x"))
		assert.Nil(t, classify(nil, "secret", "x"))
	}
}
