package fakes

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// AWSThrottlingError returns the error AWS APIs raise when rate limited.
func AWSThrottlingError() error {
	return &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded", Fault: smithy.FaultClient}
}

// AWSAccessDeniedError returns a non-retryable authorization failure.
func AWSAccessDeniedError() error {
	return &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized", Fault: smithy.FaultClient}
}

// SecretData is one fake Secrets Manager secret.
type SecretData struct {
	SecretString *string
	SecretBinary []byte
	KmsKeyID     *string
	Versions     int
}

// FakeSecretsManagerClient is an in-memory Secrets Manager.
type FakeSecretsManagerClient struct {
	Faults

	mu      sync.Mutex
	Secrets map[string]*SecretData
	Deleted []string
}

// NewFakeSecretsManagerClient creates an empty fake.
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{Secrets: make(map[string]*SecretData)}
}

// AddSecretString seeds a string secret.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = &SecretData{SecretString: aws.String(value), Versions: 1}
}

// Value returns the current value of name as a string.
func (f *FakeSecretsManagerClient) Value(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Secrets[name]
	if !ok {
		return "", false
	}
	if data.SecretString != nil {
		return *data.SecretString, true
	}
	return string(data.SecretBinary), true
}

// Has reports whether name exists.
func (f *FakeSecretsManagerClient) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Secrets[name]
	return ok
}

func notFound(name string) error {
	return &smtypes.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
	}
}

func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if err := f.hit("GetSecretValue"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.SecretId)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	return &secretsmanager.GetSecretValueOutput{
		ARN:          aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name),
		Name:         aws.String(name),
		SecretString: data.SecretString,
		SecretBinary: data.SecretBinary,
		VersionId:    aws.String(fmt.Sprintf("v%d", data.Versions)),
	}, nil
}

func (f *FakeSecretsManagerClient) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if err := f.hit("DescribeSecret"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.SecretId)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	return &secretsmanager.DescribeSecretOutput{Name: aws.String(name), KmsKeyId: data.KmsKeyID}, nil
}

func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if err := f.hit("CreateSecret"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.Name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.Secrets[name]; exists {
		return nil, &smtypes.ResourceExistsException{Message: aws.String("secret already exists: " + name)}
	}
	f.Secrets[name] = &SecretData{
		SecretString: params.SecretString,
		SecretBinary: params.SecretBinary,
		KmsKeyID:     params.KmsKeyId,
		Versions:     1,
	}
	return &secretsmanager.CreateSecretOutput{Name: aws.String(name), VersionId: aws.String("v1")}, nil
}

func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if err := f.hit("PutSecretValue"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.SecretId)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Secrets[name]
	if !ok {
		return nil, notFound(name)
	}
	data.SecretString = params.SecretString
	data.SecretBinary = params.SecretBinary
	data.Versions++
	return &secretsmanager.PutSecretValueOutput{Name: aws.String(name), VersionId: aws.String(fmt.Sprintf("v%d", data.Versions))}, nil
}

func (f *FakeSecretsManagerClient) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	if err := f.hit("DeleteSecret"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.SecretId)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Secrets[name]; !ok {
		return nil, notFound(name)
	}
	delete(f.Secrets, name)
	f.Deleted = append(f.Deleted, name)
	return &secretsmanager.DeleteSecretOutput{Name: aws.String(name)}, nil
}

// FakeKMSClient issues random data keys and remembers them by wrapped blob.
type FakeKMSClient struct {
	Faults

	mu      sync.Mutex
	KeyID   string
	wrapped map[string]kmsEntry
}

type kmsEntry struct {
	keyID string
	dek   []byte
	ctx   map[string]string
}

// NewFakeKMSClient creates a fake whose only key is keyID.
func NewFakeKMSClient(keyID string) *FakeKMSClient {
	return &FakeKMSClient{KeyID: keyID, wrapped: make(map[string]kmsEntry)}
}

func (f *FakeKMSClient) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if err := f.hit("GenerateDataKey"); err != nil {
		return nil, err
	}
	if aws.ToString(params.KeyId) != f.KeyID {
		return nil, &smithy.GenericAPIError{Code: "NotFoundException", Message: "key not found"}
	}
	dek := make([]byte, 32)
	blob := make([]byte, 48)
	if _, err := rand.Read(dek); err != nil {
		return nil, err
	}
	if _, err := rand.Read(blob); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.wrapped[base64.StdEncoding.EncodeToString(blob)] = kmsEntry{keyID: f.KeyID, dek: append([]byte(nil), dek...), ctx: maps.Clone(params.EncryptionContext)}
	f.mu.Unlock()

	return &kms.GenerateDataKeyOutput{KeyId: params.KeyId, Plaintext: dek, CiphertextBlob: blob}, nil
}

func (f *FakeKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if err := f.hit("Decrypt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	entry, ok := f.wrapped[base64.StdEncoding.EncodeToString(params.CiphertextBlob)]
	f.mu.Unlock()
	if !ok || !maps.Equal(entry.ctx, params.EncryptionContext) {
		return nil, &smithy.GenericAPIError{Code: "InvalidCiphertextException", Message: "invalid ciphertext"}
	}
	return &kms.DecryptOutput{KeyId: aws.String(entry.keyID), Plaintext: append([]byte(nil), entry.dek...)}, nil
}

// FakeSSMClient serves parameters from memory.
type FakeSSMClient struct {
	Faults
	Parameters map[string]string
}

// NewFakeSSMClient creates a fake holding params.
func NewFakeSSMClient(params map[string]string) *FakeSSMClient {
	return &FakeSSMClient{Parameters: params}
}

func (f *FakeSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if err := f.hit("GetParameter"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.Name)
	value, ok := f.Parameters[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("parameter not found: " + name)}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
		Name:  aws.String(name),
		Type:  ssmtypes.ParameterTypeSecureString,
		Value: aws.String(value),
	}}, nil
}
