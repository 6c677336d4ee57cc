// Package render fetches generated images and prepares them for display
// and download.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"icarus/internal/models"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	_ "golang.org/x/image/webp"
)

const DownloadMIME = "image/png"

var (
	ErrFetch  = errors.New("fetch image")
	ErrDecode = errors.New("decode image")
)

// Image is one rendered result. When Err is set the other fields other
// than URL are empty.
type Image struct {
	URL      string
	Data     []byte
	Format   string
	Width    int
	Height   int
	Filename string
	Err      error
}

// Message is the user-facing description of Err.
func (i Image) Message() string {
	switch {
	case i.Err == nil:
		return ""
	case errors.Is(i.Err, ErrDecode):
		return "Failed to decode image from " + i.URL
	default:
		return "Failed to load image from " + i.URL
	}
}

// MIMEType is the media type of the decoded image.
func (i Image) MIMEType() string {
	if i.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + i.Format
}

// DataURI embeds the raw bytes for display.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// DownloadURI carries the raw bytes for the download action.
func (i Image) DownloadURI() string {
	return "data:" + DownloadMIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

func DownloadFilename(style models.Style) string {
	return fmt.Sprintf("Icarus_image_%s.png", style)
}

// Fetcher downloads the bytes behind a URL. *httpkit.Client satisfies it.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// NewFetcher builds the client used for result images. Failed fetches are
// not retried.
func NewFetcher(timeout time.Duration, opts ...httpkit.ClientOption) *httpkit.Client {
	opts = append([]httpkit.ClientOption{httpkit.WithMaxRetries(0)}, opts...)
	return httpkit.New(timeout, opts...)
}

type Renderer struct {
	fetcher Fetcher
}

func NewRenderer(fetcher Fetcher) *Renderer {
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	return &Renderer{fetcher: fetcher}
}

// Render fetches every URL in order. A failed image yields an Image with
// Err set and does not stop the remaining fetches.
func (r *Renderer) Render(ctx context.Context, urls []string, style models.Style) []Image {
	images := make([]Image, 0, len(urls))
	for _, url := range urls {
		images = append(images, r.renderOne(ctx, url, style))
	}
	return images
}

func (r *Renderer) renderOne(ctx context.Context, url string, style models.Style) Image {
	failed := func(err error) Image {
		return Image{URL: url, Err: err}
	}

	data, err := r.fetcher.FetchBytes(ctx, url)
	if err != nil {
		return failed(fmt.Errorf("%w: %w", ErrFetch, err))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrDecode, err))
	}
	bounds := img.Bounds()

	return Image{
		URL:      url,
		Data:     data,
		Format:   format,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Filename: DownloadFilename(style),
	}
}
