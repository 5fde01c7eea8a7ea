package secure

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// MasterKeySize is the number of key bytes a master key must decode to.
const MasterKeySize = 32

// KeySource yields encoded master key material.
type KeySource interface {
	Describe() string
	Load(ctx context.Context) (string, error)
}

// EnvKeySource reads the key from an environment variable.
type EnvKeySource struct {
	Var string
}

func (s EnvKeySource) Describe() string { return "env:" + s.Var }

func (s EnvKeySource) Load(ctx context.Context) (string, error) {
	value, ok := os.LookupEnv(s.Var)
	if !ok || value == "" {
		return "", dserrors.ConfigError{
			Field:      "local_key.ref",
			Value:      s.Var,
			Message:    "master key environment variable is not set",
			Suggestion: "Generate one with 'secretops keygen' and export it",
		}
	}
	return value, nil
}

// FileKeySource reads the key from a file. Surrounding whitespace is ignored.
type FileKeySource struct {
	Path string
}

func (s FileKeySource) Describe() string { return "file:" + s.Path }

func (s FileKeySource) Load(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", dserrors.ConfigError{
			Field:   "local_key.ref",
			Value:   s.Path,
			Message: fmt.Sprintf("cannot read master key file: %v", err),
		}
	}
	defer memguard.WipeBytes(data)
	return strings.TrimSpace(string(data)), nil
}

// KeyringKeySource reads the key from the OS keyring.
type KeyringKeySource struct {
	Service string
	Account string
}

func (s KeyringKeySource) Describe() string { return "keyring:" + s.Service + "/" + s.Account }

func (s KeyringKeySource) Load(ctx context.Context) (string, error) {
	value, err := keyring.Get(s.Service, s.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", dserrors.ConfigError{
				Field:      "local_key.ref",
				Value:      s.Service + "/" + s.Account,
				Message:    "master key not found in keyring",
				Suggestion: "Store one with 'secretops keygen --keyring'",
			}
		}
		return "", fmt.Errorf("keyring lookup failed: %w", err)
	}
	return value, nil
}

// Store writes an encoded key into the keyring.
func (s KeyringKeySource) Store(encoded string) error {
	return keyring.Set(s.Service, s.Account, encoded)
}

// SSMParameterAPI is the subset of the SSM client used to fetch the key.
type SSMParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMKeySource reads the key from an SSM SecureString parameter.
type SSMKeySource struct {
	Client SSMParameterAPI
	Name   string
}

func (s SSMKeySource) Describe() string { return "ssm:" + s.Name }

func (s SSMKeySource) Load(ctx context.Context) (string, error) {
	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read master key parameter %s: %w", s.Name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", dserrors.ConfigError{
			Field:   "local_key.ref",
			Value:   s.Name,
			Message: "master key parameter is empty",
		}
	}
	return aws.ToString(out.Parameter.Value), nil
}

// LoadMasterKey fetches and decodes a master key into a SecureBuffer. The key
// may be base64 (standard or URL alphabet) or hex encoded.
func LoadMasterKey(ctx context.Context, src KeySource) (*SecureBuffer, error) {
	encoded, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := DecodeKey(encoded)
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      "local_key",
			Value:      src.Describe(),
			Message:    err.Error(),
			Suggestion: fmt.Sprintf("Provide %d random bytes, base64 or hex encoded", MasterKeySize),
		}
	}
	return NewSecureBuffer(raw)
}

// DecodeKey decodes an encoded key and checks its length.
func DecodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		raw, err := decode(encoded)
		if err != nil {
			continue
		}
		if len(raw) != MasterKeySize {
			memguard.WipeBytes(raw)
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("master key must decode to exactly %d bytes", MasterKeySize)
}

// GenerateKey returns a new random master key, base64 encoded.
func GenerateKey() string {
	raw := memguard.NewBufferRandom(MasterKeySize)
	defer raw.Destroy()
	return base64.StdEncoding.EncodeToString(raw.Bytes())
}
