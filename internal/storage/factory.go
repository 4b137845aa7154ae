package storage

import "strings"

// NewStore creates an ArtifactStore instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - ArtifactStore: initialized store implementation.
//   - error: non-nil if the store client cannot be created.
func NewStore(cfg *S3Config) (ArtifactStore, error) {
	// Auto-detect backend type if not specified
	if cfg.Type == "" {
		cfg.Type = detectBackendType(cfg.Endpoint)
	}

	if cfg.Type == BackendTypeMinIO {
		return NewMinIOStore(&MinIOConfig{
			Endpoint:  normalizeEndpoint(cfg.Endpoint),
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	}

	return NewS3Store(cfg)
}

// detectBackendType attempts to detect the storage backend from the endpoint
func detectBackendType(endpoint string) BackendType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return BackendTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return BackendTypeS3
	case strings.Contains(endpoint, "minio"), strings.Contains(endpoint, "localhost"), strings.Contains(endpoint, "127.0.0.1"):
		return BackendTypeMinIO
	default:
		return BackendTypeS3Compatible
	}
}
