package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultFetchTimeout = 30 * time.Second

// Image is an encoded image part ready for the generation call.
type Image struct {
	MIMEType string
	Data     []byte
}

// Resolver downloads images and normalizes them into model-accepted encodings.
type Resolver struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewResolver creates a resolver with a bounded-timeout HTTP client.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		client:   &http.Client{Timeout: defaultFetchTimeout},
		maxBytes: MaxImageBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// acceptedTypes maps inbound content-types to the mime type submitted to the
// model. GIF maps to PNG because the model does not accept GIF payloads.
var acceptedTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/gif":  "image/png",
	"image/webp": "image/webp",
}

// Resolve fetches url and returns a model-ready encoded image. All failures
// are returned to the caller, which degrades to "no image".
func (r *Resolver) Resolve(ctx context.Context, url string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("image fetch failed", slog.String("url", url), slog.Any("error", err))
		return Image{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		r.logger.Error("image fetch failed", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return Image{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	mimeType := matchAcceptedType(contentType)
	if mimeType == "" {
		r.logger.Warn("unsupported image type", slog.String("url", url), slog.String("content_type", contentType))
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImageType, contentType)
	}

	data, err := ReadAllWithLimit(resp.Body, r.maxBytes)
	if err != nil {
		return Image{}, fmt.Errorf("read image body: %w", err)
	}

	if strings.Contains(contentType, "gif") {
		data, err = gifToPNG(data)
		if err != nil {
			r.logger.Warn("gif conversion failed", slog.String("url", url), slog.Any("error", err))
			return Image{}, err
		}
	}

	return Image{MIMEType: mimeType, Data: data}, nil
}

func matchAcceptedType(contentType string) string {
	for accepted, mimeType := range acceptedTypes {
		if strings.Contains(contentType, accepted) {
			return mimeType
		}
	}
	return ""
}

// gifToPNG re-encodes the first GIF frame as PNG.
func gifToPNG(data []byte) ([]byte, error) {
	frame, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGIFDecode, err)
	}

	bounds := frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, frame, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGIFDecode, err)
	}
	return buf.Bytes(), nil
}
