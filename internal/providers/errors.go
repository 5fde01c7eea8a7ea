package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	vault "github.com/hashicorp/vault/api"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// AkeylessError wraps Akeyless SDK errors with context.
type AkeylessError struct {
	Op      string // "auth", "get", "describe"
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *AkeylessError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("akeyless %s error for %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("akeyless %s error: %s", e.Op, msg)
}

func (e *AkeylessError) Unwrap() error {
	return e.Err
}

// awsTransientCodes are smithy API error codes worth retrying.
var awsTransientCodes = map[string]bool{
	"ThrottlingException":           true,
	"Throttling":                    true,
	"TooManyRequestsException":      true,
	"RequestLimitExceeded":          true,
	"LimitExceededException":        true,
	"InternalFailure":               true,
	"InternalServiceError":          true,
	"InternalServiceErrorException": true,
	"ServiceUnavailable":            true,
	"ServiceUnavailableException":   true,
	"KMSInternalException":          true,
	"DependencyTimeoutException":    true,
	"RequestTimeout":                true,
	"RequestTimeoutException":       true,
}

var awsNotFoundCodes = map[string]bool{
	"ResourceNotFoundException": true,
	"NotFoundException":         true,
	"ParameterNotFound":         true,
	"NoSuchKey":                 true,
	"NotFound":                  true,
}

// classifyAWS maps an AWS SDK error onto the taxonomy. resource and id
// describe the target for NotFoundError.
func classifyAWS(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case awsNotFoundCodes[code]:
			return dserrors.NotFoundError{Resource: resource, ID: id}
		case awsTransientCodes[code]:
			return dserrors.Transient(err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.HTTPStatusCode(), err, resource, id)
	}
	return err
}

// classifyAzure maps an Azure SDK error onto the taxonomy.
func classifyAzure(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.StatusCode, err, resource, id)
	}
	return err
}

// classifyGCP maps googleapi and gRPC errors onto the taxonomy.
func classifyGCP(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err, resource, id)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound:
			return dserrors.NotFoundError{Resource: resource, ID: id}
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return dserrors.Transient(err)
		}
	}
	return err
}

// classifyVault maps a Vault API error onto the taxonomy.
func classifyVault(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	var respErr *vault.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.StatusCode, err, resource, id)
	}
	return err
}

// classifyAkeyless maps an AkeylessError onto the taxonomy.
func classifyAkeyless(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	var akErr *AkeylessError
	if errors.As(err, &akErr) && akErr.Status > 0 {
		return classifyStatus(akErr.Status, err, resource, id)
	}
	return err
}

func classifyStatus(code int, err error, resource, id string) error {
	switch {
	case code == http.StatusNotFound:
		return dserrors.NotFoundError{Resource: resource, ID: id}
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return dserrors.Transient(err)
	default:
		return err
	}
}

// contextError keeps attempt deadlines retryable and parent cancellation
// terminal. Both surface as the bare context error so the executor can tell
// them apart.
func contextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	}
	return nil
}
