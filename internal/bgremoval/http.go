package bgremoval

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
)

// DefaultTimeout bounds a single HTTP removal call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps the response body read from the service.
const maxResponseBytes = 32 << 20

// HTTP calls a rembg-compatible service. The source image is POSTed as a
// PNG body; the service must answer 200 with an image body (PNG with alpha).
type HTTP struct {
	URL    string
	Client *http.Client
	Store  *imaging.Store
}

// NewHTTP returns an HTTP remover with its own client and timeout.
func NewHTTP(url string, store *imaging.Store, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		Store:  store,
	}
}

// RemoveBackground sends imageRef to the service and stores the returned
// image under a new memory ref.
func (h *HTTP) RemoveBackground(ctx context.Context, imageRef string) (string, error) {
	img, err := h.Store.Load(imageRef)
	if err != nil {
		return "", failure("load %s: %v", imageRef, err)
	}

	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return "", failure("encode %s: %v", imageRef, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return "", failure("build request: %v", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "image/png")

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", failure("%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", failure("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", failure("service returned %s: %s", resp.Status, truncate(data, 200))
	}

	ref, err := h.Store.PutEncoded(data)
	if err != nil {
		return "", failure("%v", err)
	}
	return ref, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
