// Package cloud builds authenticated SDK configuration for the AWS, Azure and
// GCP clients used by providers, the S3 blob store and the SSM key source.
//
// Credentials come from provider settings and decrypted credential fields
// first, then from the SDK default chains (environment, shared profiles,
// instance metadata, managed identity).
package cloud
