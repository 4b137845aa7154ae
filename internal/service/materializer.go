package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/atelier3d/atelier/internal/domain"
	"github.com/atelier3d/atelier/internal/logger"
	"github.com/atelier3d/atelier/internal/storage"
	_ "golang.org/x/image/webp"
)

// fallbackFilename is used when no filename can be derived from a reference.
const fallbackFilename = "artifact"

// ResultFetcher downloads the produced artifact bytes for an upstream job.
// Implemented by compute.Client.
type ResultFetcher interface {
	FetchResult(ctx context.Context, externalJobID string) ([]byte, string, error)
}

// Materializer fetches produced artifacts from the compute API and persists
// them to the artifact store under deterministic, kind-scoped paths.
type Materializer struct {
	fetcher ResultFetcher
	store   storage.ArtifactStore
	logger  *logger.Logger
	now     func() time.Time
}

// NewMaterializer creates a new Materializer.
// Parameters:
//   - fetcher: result download client.
//   - store: destination artifact store.
//   - log: base logger.
// Returns:
//   - *Materializer: initialized materializer.
func NewMaterializer(fetcher ResultFetcher, store storage.ArtifactStore, log *logger.Logger) *Materializer {
	return &Materializer{
		fetcher: fetcher,
		store:   store,
		logger:  log,
		now:     time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (m *Materializer) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return m.logger
}

// Materialize fetches and stores each produced artifact independently.
//
// Per-reference failures are logged and skipped, never propagated: a job can
// complete with zero, some, or all artifacts materialized, and the returned
// list reflects exactly what succeeded, in input order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - externalJobID: upstream job whose result endpoint serves the bytes.
//   - subjectID: domain object the artifacts belong to; scopes storage paths.
//   - kind: compute operation; selects the storage path template.
//   - references: upstream-produced artifact references (opaque strings).
// Returns:
//   - []string: public URLs of the artifacts that were stored.
func (m *Materializer) Materialize(ctx context.Context, externalJobID, subjectID string, kind domain.JobKind, references []string) []string {
	urls := make([]string, 0, len(references))

	for _, ref := range references {
		filename := displayFilename(ref)

		data, contentType, err := m.fetcher.FetchResult(ctx, externalJobID)
		if err != nil {
			m.log(ctx).WithError(err).Warnf("Skipping artifact %q: fetch failed", ref)
			continue
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		if kind != domain.JobKindModelGeneration {
			m.probeImage(ctx, filename, data)
		}

		key := artifactKey(kind, subjectID, filename, m.now())
		publicURL, err := m.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			m.log(ctx).WithError(err).Warnf("Skipping artifact %q: upload failed", ref)
			continue
		}

		m.log(ctx).WithFields(logger.Fields{
			logger.FieldSize: len(data),
		}).Debugf("Materialized artifact %q as %s", ref, key)
		urls = append(urls, publicURL)
	}

	return urls
}

// artifactKey computes the deterministic storage path for an artifact.
// Model artifacts live under a per-subject model prefix with the model file
// extension; everything else goes under the subject's processed-images prefix
// preserving the derived filename. The timestamp disambiguates repeated
// materializations of the same subject.
func artifactKey(kind domain.JobKind, subjectID, filename string, at time.Time) string {
	ts := at.UnixMilli()
	if kind == domain.JobKindModelGeneration {
		return fmt.Sprintf("models/%s/model_%d.glb", subjectID, ts)
	}
	return fmt.Sprintf("items/%s/processed/%d_%s", subjectID, ts, filename)
}

// displayFilename derives a display filename from an artifact reference.
// The reference is an identifier, not necessarily a fetchable URL, so this
// only needs to produce something readable for the storage path.
func displayFilename(ref string) string {
	trimmed := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		trimmed = u.Path
	} else if idx := strings.IndexAny(trimmed, "?#"); idx != -1 {
		trimmed = trimmed[:idx]
	}

	trimmed = strings.TrimSuffix(trimmed, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx != -1 {
		trimmed = trimmed[idx+1:]
	}

	if trimmed == "" || trimmed == "." {
		return fallbackFilename
	}
	return trimmed
}

// probeImage decodes image dimensions for observability. Artifacts that are
// not decodable images are ignored silently.
func (m *Materializer) probeImage(ctx context.Context, filename string, data []byte) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return
	}
	m.log(ctx).Debugf("Artifact %q is a %s image (%dx%d)", filename, format, cfg.Width, cfg.Height)
}
