package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/models"
)

// fakePage serves canned screenshot/DOM content.
type fakePage struct {
	pngData  []byte
	html     string
	viewport models.Viewport
	shotErr  error
	htmlErr  error
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	return p.pngData, p.shotErr
}

func (p *fakePage) HTML(context.Context) (string, error) {
	return p.html, p.htmlErr
}

func (p *fakePage) Viewport() models.Viewport { return p.viewport }

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func captureConfig(compression bool) *config.CaptureConfig {
	return &config.CaptureConfig{
		Compression:       compression,
		ScreenshotQuality: 80,
		UploadRetries:     2,
		Store:             "memory",
	}
}

var keyRe = regexp.MustCompile(`^artifacts/t-1/e-1/(screenshot|dom|network)/\d{8}T\d{6}\.\d{9}Z\.(png|jpg|html|html\.gz|har)$`)

func TestCaptureScreenshot_KeySchemaAndMetadata(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(false), store)
	page := &fakePage{pngData: tinyPNG(t), viewport: models.Viewport{Width: 800, Height: 600}}

	a := svc.CaptureScreenshot(context.Background(), page, "t-1", "e-1", "login")
	require.NotNil(t, a)

	assert.Regexp(t, keyRe, a.BlobKey)
	assert.True(t, strings.HasSuffix(a.BlobKey, ".png"))
	assert.Equal(t, models.ArtifactScreenshot, a.Kind)
	assert.Equal(t, "login", a.Metadata["step_name"])
	assert.Equal(t, "800x600", a.Metadata["viewport"])

	data, err := store.Get(context.Background(), a.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, a.Size, int64(len(data)))
}

func TestCaptureScreenshot_CompressionProducesJPEG(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(true), store)
	page := &fakePage{pngData: tinyPNG(t)}

	a := svc.CaptureScreenshot(context.Background(), page, "t-1", "e-1", "step")
	require.NotNil(t, a)
	assert.True(t, strings.HasSuffix(a.BlobKey, ".jpg"))

	data, err := store.Get(context.Background(), a.BlobKey)
	require.NoError(t, err)
	// JPEG SOI marker.
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestCaptureScreenshot_ViewportFallback(t *testing.T) {
	svc := NewService(captureConfig(false), NewMemoryStore())
	page := &fakePage{pngData: tinyPNG(t)}

	a := svc.CaptureScreenshot(context.Background(), page, "t-1", "e-1", "step")
	require.NotNil(t, a)
	assert.Equal(t, "1920x1080", a.Metadata["viewport"])
}

func TestCaptureScreenshot_ErrorsSwallowed(t *testing.T) {
	svc := NewService(captureConfig(false), NewMemoryStore())
	page := &fakePage{shotErr: errors.New("browser crashed")}

	assert.Nil(t, svc.CaptureScreenshot(context.Background(), page, "t-1", "e-1", "step"))
}

func TestCaptureDomSnapshot_CompressionCollapsesAndGzips(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(true), store)
	page := &fakePage{html: "<html>\n  <body>\n    <div>hi</div>\n  </body>\n</html>"}

	a := svc.CaptureDomSnapshot(context.Background(), page, "t-1", "e-1", errors.New("element not found"))
	require.NotNil(t, a)
	assert.True(t, strings.HasSuffix(a.BlobKey, ".html.gz"))
	assert.Equal(t, "element not found", a.Metadata["error"])

	data, err := store.Get(context.Background(), a.BlobKey)
	require.NoError(t, err)
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(gz)
	require.NoError(t, err)
	assert.Equal(t, "<html><body><div>hi</div></body></html>", out.String())
}

func TestCaptureDomSnapshot_Uncompressed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(false), store)
	page := &fakePage{html: "<html><body></body></html>"}

	a := svc.CaptureDomSnapshot(context.Background(), page, "t-1", "e-1", nil)
	require.NotNil(t, a)
	assert.True(t, strings.HasSuffix(a.BlobKey, ".html"))
	assert.NotContains(t, a.Metadata, "error")
}

func TestCaptureNetworkLogs_HAR(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(false), store)

	rec := NewNetworkRecorder()
	rec.Request("r1", "GET", "https://example.com/api", map[string]string{"accept": "application/json"}, "")
	rec.Response("r1", 200, map[string]string{"content-type": "application/json"})
	rec.Request("r2", "POST", "https://example.com/submit", map[string]string{"content-type": "application/json"}, `{"a":1}`)
	rec.Response("r2", 500, nil)

	a := svc.CaptureNetworkLogs(context.Background(), rec, "t-1", "e-1")
	require.NotNil(t, a)
	assert.True(t, strings.HasSuffix(a.BlobKey, ".har"))

	data, err := store.Get(context.Background(), a.BlobKey)
	require.NoError(t, err)

	var har HAR
	require.NoError(t, json.Unmarshal(data, &har))
	assert.Equal(t, "1.2", har.Log.Version)
	assert.Equal(t, "AutoQA Artifact Capture", har.Log.Creator.Name)
	assert.Equal(t, "1.0.0", har.Log.Creator.Version)
	require.Len(t, har.Log.Entries, 2)
	assert.Equal(t, "GET", har.Log.Entries[0].Request.Method)
	assert.Equal(t, 200, har.Log.Entries[0].Response.Status)
	assert.Equal(t, "POST", har.Log.Entries[1].Request.Method)
	require.NotNil(t, har.Log.Entries[1].Request.PostData)
	assert.Equal(t, `{"a":1}`, har.Log.Entries[1].Request.PostData.Text)
}

func TestCaptureAll(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(false), store)
	page := &fakePage{pngData: tinyPNG(t), html: "<html></html>"}
	rec := NewNetworkRecorder()

	result := svc.CaptureAll(context.Background(), page, rec, "t-1", "e-1", "final", nil)
	assert.True(t, result.Success)
	assert.Len(t, result.Artifacts, 3)
	assert.Empty(t, result.Errors)

	kinds := map[models.ArtifactKind]bool{}
	for _, a := range result.Artifacts {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[models.ArtifactScreenshot])
	assert.True(t, kinds[models.ArtifactDomSnapshot])
	assert.True(t, kinds[models.ArtifactNetworkLog])
}

func TestCaptureAll_PartialFailure(t *testing.T) {
	svc := NewService(captureConfig(false), NewMemoryStore())
	page := &fakePage{shotErr: errors.New("no page"), html: "<html></html>"}

	result := svc.CaptureAll(context.Background(), page, nil, "t-1", "e-1", "step", nil)
	assert.False(t, result.Success)
	assert.Len(t, result.Artifacts, 1)
	assert.Len(t, result.Errors, 1)
}

// flakyStore fails the first putFailures Put calls.
type flakyStore struct {
	*MemoryStore
	putFailures int32
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if atomic.AddInt32(&s.putFailures, -1) >= 0 {
		return errors.New("transient store error")
	}
	return s.MemoryStore.Put(ctx, key, data, contentType)
}

func TestUpload_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), putFailures: 2}
	svc := NewService(captureConfig(false), store)
	page := &fakePage{pngData: tinyPNG(t)}

	a := svc.CaptureScreenshot(context.Background(), page, "t-1", "e-1", "step")
	require.NotNil(t, a, "upload succeeds within the retry budget")
	assert.Equal(t, 1, store.Len())
}

func TestDeleteArtifacts(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(captureConfig(false), store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("artifacts/t-1/e-1/screenshot/2026010%dT000000.000000000Z.png", i)
		require.NoError(t, store.Put(ctx, key, []byte("x"), "image/png"))
	}
	require.NoError(t, store.Put(ctx, "artifacts/t-1/e-2/screenshot/20260101T000000.000000000Z.png", []byte("x"), "image/png"))

	require.NoError(t, svc.DeleteArtifacts(ctx, "t-1", "e-1"))
	assert.Equal(t, 1, store.Len(), "other executions' artifacts survive")
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/var/lib/autoqa")
	ctx := context.Background()

	key := "artifacts/t-1/e-1/dom/20260101T000000.000000000Z.html"
	require.NoError(t, store.Put(ctx, key, []byte("<html/>"), "text/html"))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("<html/>"), data)

	keys, err := store.List(ctx, "artifacts/t-1/e-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	require.NoError(t, store.Delete(ctx, key), "double delete is a no-op")
}

func TestSortableKeysOrderChronologically(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(90 * time.Minute)

	k1 := fmt.Sprintf("artifacts/t/e/screenshot/%s.png", earlier.Format("20060102T150405.000000000Z"))
	k2 := fmt.Sprintf("artifacts/t/e/screenshot/%s.png", later.Format("20060102T150405.000000000Z"))
	assert.Less(t, k1, k2)
}
