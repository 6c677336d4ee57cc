package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"icarus/internal/models"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createImageData(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 128, 0, 255})
		}
	}

	buf := new(bytes.Buffer)
	var err error
	switch format {
	case "png":
		err = png.Encode(buf, img)
	case "jpeg":
		err = jpeg.Encode(buf, img, nil)
	default:
		t.Fatalf("unsupported format: %s", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

// newTestRenderer allows loopback URLs so httptest servers can be reached.
func newTestRenderer(srv *httptest.Server) *Renderer {
	return NewRenderer(NewFetcher(5*time.Second,
		httpkit.WithHTTPClient(srv.Client()),
		httpkit.WithSkipNetworkValidation(true),
	))
}

func TestRenderPartialFailure(t *testing.T) {
	pngData := createImageData(t, "png", 16, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	})
	mux.HandleFunc("/missing.png", http.NotFound)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	urls := []string{srv.URL + "/ok.png", srv.URL + "/missing.png"}
	images := newTestRenderer(srv).Render(context.Background(), urls, models.StyleAnime)
	require.Len(t, images, 2)

	ok := images[0]
	require.NoError(t, ok.Err)
	assert.Equal(t, urls[0], ok.URL)
	assert.Equal(t, pngData, ok.Data)
	assert.Equal(t, "png", ok.Format)
	assert.Equal(t, 16, ok.Width)
	assert.Equal(t, 8, ok.Height)
	assert.Equal(t, "Icarus_image_Anime.png", ok.Filename)
	assert.Empty(t, ok.Message())

	bad := images[1]
	require.Error(t, bad.Err)
	assert.ErrorIs(t, bad.Err, ErrFetch)
	assert.Nil(t, bad.Data)
	assert.Equal(t, "Failed to load image from "+urls[1], bad.Message())
}

func TestRenderKeepsOrderAfterFailure(t *testing.T) {
	jpegData := createImageData(t, "jpeg", 4, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	})
	mux.HandleFunc("/photo.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegData)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	urls := []string{srv.URL + "/broken", srv.URL + "/garbage", srv.URL + "/photo.jpg"}
	images := newTestRenderer(srv).Render(context.Background(), urls, models.StylePixelArt)
	require.Len(t, images, 3)

	assert.ErrorIs(t, images[0].Err, ErrFetch)
	assert.ErrorIs(t, images[1].Err, ErrDecode)
	assert.Equal(t, "Failed to decode image from "+urls[1], images[1].Message())

	require.NoError(t, images[2].Err)
	assert.Equal(t, "jpeg", images[2].Format)
	assert.Equal(t, "image/jpeg", images[2].MIMEType())
	assert.Equal(t, "Icarus_image_Pixel Art.png", images[2].Filename)
}

func TestRenderUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.png"
	srv.Close()

	images := newTestRenderer(srv).Render(context.Background(), []string{url}, models.StyleVintage)
	require.Len(t, images, 1)
	assert.ErrorIs(t, images[0].Err, ErrFetch)
	assert.Equal(t, "Failed to load image from "+url, images[0].Message())
}

func TestRenderDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	images := newTestRenderer(srv).Render(context.Background(), []string{srv.URL + "/busy.png"}, models.StyleAnime)
	require.Len(t, images, 1)
	assert.ErrorIs(t, images[0].Err, ErrFetch)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDefaultFetcherBlocksLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	url := srv.URL + "/internal.png"
	images := NewRenderer(nil).Render(context.Background(), []string{url}, models.StylePaint)
	require.Len(t, images, 1)
	assert.ErrorIs(t, images[0].Err, ErrFetch)
	assert.Equal(t, "Failed to load image from "+url, images[0].Message())
	assert.Zero(t, hits.Load())
}

func TestRenderEmpty(t *testing.T) {
	images := NewRenderer(nil).Render(context.Background(), nil, models.StylePaint)
	assert.Empty(t, images)
}

func TestDataURIs(t *testing.T) {
	img := Image{Data: []byte{1, 2, 3}, Format: "webp"}

	assert.True(t, strings.HasPrefix(img.DataURI(), "data:image/webp;base64,"))
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), img.DownloadURI())
}

func TestDownloadFilename(t *testing.T) {
	assert.Equal(t, "Icarus_image_Comic Book.png", DownloadFilename(models.StyleComicBook))
}
