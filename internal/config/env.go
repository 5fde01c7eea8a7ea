package config

import (
	"strconv"
	"time"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SECRETOPS_"

type lookupFunc func(key string) (string, bool)

type override struct {
	name  string
	apply func(d *Definition, value string) error
}

func str(set func(d *Definition, v string)) func(*Definition, string) error {
	return func(d *Definition, v string) error {
		set(d, v)
		return nil
	}
}

func integer(name string, set func(d *Definition, n int)) func(*Definition, string) error {
	return func(d *Definition, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return dserrors.ConfigError{Field: EnvPrefix + name, Value: v, Message: "expected an integer"}
		}
		set(d, n)
		return nil
	}
}

func boolean(name string, set func(d *Definition, b bool)) func(*Definition, string) error {
	return func(d *Definition, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return dserrors.ConfigError{Field: EnvPrefix + name, Value: v, Message: "expected true or false"}
		}
		set(d, b)
		return nil
	}
}

func duration(name string, set func(d *Definition, dur time.Duration)) func(*Definition, string) error {
	return func(d *Definition, v string) error {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return dserrors.ConfigError{Field: EnvPrefix + name, Value: v, Message: "expected a duration such as 30s"}
		}
		set(d, dur)
		return nil
	}
}

var overrides = []override{
	{"STORAGE_DRIVER", str(func(d *Definition, v string) { d.Storage.Driver = v })},
	{"STORAGE_DSN", str(func(d *Definition, v string) { d.Storage.DSN = v })},
	{"BLOBS_DRIVER", str(func(d *Definition, v string) { d.Blobs.Driver = v })},
	{"BLOBS_BUCKET", str(func(d *Definition, v string) { d.Blobs.Bucket = v })},
	{"BLOBS_PREFIX", str(func(d *Definition, v string) { d.Blobs.Prefix = v })},
	{"BLOBS_REGION", str(func(d *Definition, v string) { d.Blobs.Region = v })},
	{"BLOBS_ENDPOINT", str(func(d *Definition, v string) { d.Blobs.Endpoint = v })},
	{"LOCAL_KEY_SOURCE", str(func(d *Definition, v string) { d.LocalKey.Source = v })},
	{"LOCAL_KEY_REF", str(func(d *Definition, v string) { d.LocalKey.Ref = v })},
	{"EXECUTOR_WORKERS", integer("EXECUTOR_WORKERS", func(d *Definition, n int) { d.Executor.Workers = n })},
	{"EXECUTOR_ATTEMPTS", integer("EXECUTOR_ATTEMPTS", func(d *Definition, n int) { d.Executor.Attempts = n })},
	{"EXECUTOR_DELAY", duration("EXECUTOR_DELAY", func(d *Definition, v time.Duration) { d.Executor.Delay = v })},
	{"ENCRYPT_TIMEOUT", duration("ENCRYPT_TIMEOUT", func(d *Definition, v time.Duration) { d.Executor.EncryptTimeout = v })},
	{"DECRYPT_TIMEOUT", duration("DECRYPT_TIMEOUT", func(d *Definition, v time.Duration) { d.Executor.DecryptTimeout = v })},
	{"QUEUE_WORKERS", integer("QUEUE_WORKERS", func(d *Definition, n int) { d.Queue.Workers = n })},
	{"DIRECT_GLOBAL_CLOUD_KMS", boolean("DIRECT_GLOBAL_CLOUD_KMS", func(d *Definition, b bool) { d.Features.DirectGlobalCloudKMS = b })},
	{"FALLBACK_TO_LOCAL", boolean("FALLBACK_TO_LOCAL", func(d *Definition, b bool) { d.Features.FallbackToLocal = &b })},
	{"VERIFY_ALL_MIGRATIONS", boolean("VERIFY_ALL_MIGRATIONS", func(d *Definition, b bool) { d.Features.VerifyAllMigrations = b })},
	{"METRICS_ADDR", str(func(d *Definition, v string) { d.Metrics.Addr = v })},
	{"CHANGE_LOG_DIR", str(func(d *Definition, v string) { d.ChangeLog.Dir = v })},
}

// applyEnv overlays SECRETOPS_* variables onto d. Empty values are ignored.
func applyEnv(d *Definition, lookup lookupFunc) error {
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(d, v); err != nil {
			return err
		}
	}
	return nil
}
