package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"regexp"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/models"
)

// deleteParallelism bounds concurrent blob deletions.
const deleteParallelism = 8

var interTagWhitespaceRe = regexp.MustCompile(`>\s+<`)

// Page is the minimal browser page surface the capture layer needs.
type Page interface {
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// HTML returns the current DOM as an HTML string.
	HTML(ctx context.Context) (string, error)
	// Viewport returns the page's viewport, or the zero value if unknown.
	Viewport() models.Viewport
}

// CaptureResult is the outcome of a composite capture.
type CaptureResult struct {
	Success   bool
	Artifacts []models.Artifact
	Errors    []error
}

// Service captures artifacts and uploads them to the blob store. Capture
// failures never fail the test run: public methods swallow errors and
// return nil.
type Service struct {
	cfg    *config.CaptureConfig
	store  BlobStore
	logger *slog.Logger
}

// NewService creates a capture service over store.
func NewService(cfg *config.CaptureConfig, store BlobStore) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: slog.With("component", "artifact_capture"),
	}
}

// Store returns the underlying blob store.
func (s *Service) Store() BlobStore { return s.store }

// CaptureScreenshot takes a full-page screenshot and uploads it. With
// compression enabled the PNG is recompressed as JPEG at the configured
// quality. Returns nil on any failure.
func (s *Service) CaptureScreenshot(ctx context.Context, page Page, testID, executionID, stepName string) *models.Artifact {
	artifact, err := s.captureScreenshot(ctx, page, testID, executionID, stepName)
	if err != nil {
		s.logger.Warn("Screenshot capture failed",
			"execution_id", executionID, "step", stepName, "error", err)
		return nil
	}
	return artifact
}

func (s *Service) captureScreenshot(ctx context.Context, page Page, testID, executionID, stepName string) (*models.Artifact, error) {
	raw, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}

	data, ext, contentType := raw, "png", "image/png"
	if s.cfg.Compression {
		if jpg, cerr := recompressJPEG(raw, s.cfg.ScreenshotQuality); cerr != nil {
			// Keep the original PNG when recompression fails.
			s.logger.Debug("Screenshot recompression failed, keeping PNG", "error", cerr)
		} else {
			data, ext, contentType = jpg, "jpg", "image/jpeg"
		}
	}

	viewport := page.Viewport()
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = models.DefaultViewport
	}

	now := time.Now()
	key := ids.ArtifactKey(testID, executionID, string(models.ArtifactScreenshot), now, ext)
	if err := s.upload(ctx, key, data, contentType, models.ArtifactScreenshot); err != nil {
		return nil, err
	}

	return &models.Artifact{
		ID:          ids.NewID(),
		ExecutionID: executionID,
		Kind:        models.ArtifactScreenshot,
		Timestamp:   now,
		BlobKey:     key,
		Size:        int64(len(data)),
		Metadata: map[string]string{
			"step_name": stepName,
			"viewport":  fmt.Sprintf("%dx%d", viewport.Width, viewport.Height),
		},
	}, nil
}

// CaptureDomSnapshot captures the page HTML and uploads it. With compression
// enabled, inter-tag whitespace is collapsed and the result gzipped. The
// triggering error, if any, lands in the artifact metadata. Returns nil on
// any failure.
func (s *Service) CaptureDomSnapshot(ctx context.Context, page Page, testID, executionID string, captureErr error) *models.Artifact {
	artifact, err := s.captureDomSnapshot(ctx, page, testID, executionID, captureErr)
	if err != nil {
		s.logger.Warn("DOM snapshot capture failed",
			"execution_id", executionID, "error", err)
		return nil
	}
	return artifact
}

func (s *Service) captureDomSnapshot(ctx context.Context, page Page, testID, executionID string, captureErr error) (*models.Artifact, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page html: %w", err)
	}

	data, ext, contentType := []byte(html), "html", "text/html"
	if s.cfg.Compression {
		collapsed := interTagWhitespaceRe.ReplaceAllString(html, "><")
		gz, gerr := gzipBytes([]byte(collapsed))
		if gerr != nil {
			return nil, fmt.Errorf("compressing dom snapshot: %w", gerr)
		}
		data, ext, contentType = gz, "html.gz", "application/gzip"
	}

	now := time.Now()
	key := ids.ArtifactKey(testID, executionID, string(models.ArtifactDomSnapshot), now, ext)
	if err := s.upload(ctx, key, data, contentType, models.ArtifactDomSnapshot); err != nil {
		return nil, err
	}

	meta := map[string]string{}
	if captureErr != nil {
		meta["error"] = captureErr.Error()
	}
	return &models.Artifact{
		ID:          ids.NewID(),
		ExecutionID: executionID,
		Kind:        models.ArtifactDomSnapshot,
		Timestamp:   now,
		BlobKey:     key,
		Size:        int64(len(data)),
		Metadata:    meta,
	}, nil
}

// CaptureNetworkLogs serializes the recorder's entries as HAR 1.2 and
// uploads them. Returns nil on any failure.
func (s *Service) CaptureNetworkLogs(ctx context.Context, rec *NetworkRecorder, testID, executionID string) *models.Artifact {
	artifact, err := s.captureNetworkLogs(ctx, rec, testID, executionID)
	if err != nil {
		s.logger.Warn("Network log capture failed",
			"execution_id", executionID, "error", err)
		return nil
	}
	return artifact
}

func (s *Service) captureNetworkLogs(ctx context.Context, rec *NetworkRecorder, testID, executionID string) (*models.Artifact, error) {
	entries := rec.Entries()
	data, err := json.Marshal(BuildHAR(entries))
	if err != nil {
		return nil, fmt.Errorf("serializing har: %w", err)
	}

	now := time.Now()
	key := ids.ArtifactKey(testID, executionID, string(models.ArtifactNetworkLog), now, "har")
	if err := s.upload(ctx, key, data, "application/json", models.ArtifactNetworkLog); err != nil {
		return nil, err
	}

	return &models.Artifact{
		ID:          ids.NewID(),
		ExecutionID: executionID,
		Kind:        models.ArtifactNetworkLog,
		Timestamp:   now,
		BlobKey:     key,
		Size:        int64(len(data)),
		Metadata:    map[string]string{"entries": fmt.Sprintf("%d", len(entries))},
	}, nil
}

// CaptureAll captures screenshot, DOM snapshot, and network logs in one
// pass. Partial failures are collected; Success is true only when every
// capture succeeded.
func (s *Service) CaptureAll(ctx context.Context, page Page, rec *NetworkRecorder, testID, executionID, stepName string, captureErr error) CaptureResult {
	var result CaptureResult

	if a, err := s.captureScreenshot(ctx, page, testID, executionID, stepName); err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.Artifacts = append(result.Artifacts, *a)
	}
	if a, err := s.captureDomSnapshot(ctx, page, testID, executionID, captureErr); err != nil {
		result.Errors = append(result.Errors, err)
	} else {
		result.Artifacts = append(result.Artifacts, *a)
	}
	if rec != nil {
		if a, err := s.captureNetworkLogs(ctx, rec, testID, executionID); err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.Artifacts = append(result.Artifacts, *a)
		}
	}

	result.Success = len(result.Errors) == 0
	return result
}

// DeleteArtifacts removes every blob under the execution's prefix in
// parallel. Partial failures are combined and returned; completed deletions
// are not undone.
func (s *Service) DeleteArtifacts(ctx context.Context, testID, executionID string) error {
	prefix := fmt.Sprintf("artifacts/%s/%s/", testID, executionID)
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("listing artifacts under %s: %w", prefix, err)
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  error
	)
	g.SetLimit(deleteParallelism)
	for _, key := range keys {
		g.Go(func() error {
			if derr := s.store.Delete(ctx, key); derr != nil {
				errMu.Lock()
				errs = multierr.Append(errs, derr)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Deleted execution artifacts",
		"execution_id", executionID, "count", len(keys), "failed", len(multierr.Errors(errs)))
	return errs
}

// upload pushes one blob with bounded retries.
func (s *Service) upload(ctx context.Context, key string, data []byte, contentType string, kind models.ArtifactKind) error {
	err := retry.Do(
		func() error { return s.store.Put(ctx, key, data, contentType) },
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.UploadRetries)+1),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.ArtifactUploads.WithLabelValues(string(kind), "failure").Inc()
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	metrics.ArtifactUploads.WithLabelValues(string(kind), "success").Inc()
	return nil
}

func recompressJPEG(pngData []byte, quality int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
