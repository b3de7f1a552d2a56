package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// MemoryRefPrefix marks image refs that live only in the store, such as
// background-removal results.
const MemoryRefPrefix = "mem://"

// Store resolves image refs to decoded images.
//
// A ref is either a file path (absolute or relative) or a "mem://" ref
// returned by Put/PutEncoded. File images are decoded once and cached under
// the exact path string. Memory images exist only in the store.
//
// Store is safe for concurrent use: the placement engine loads product
// images from background goroutines while the session renders.
//
// # Memory Management
//
// Cached images remain in memory until explicitly removed via Evict(). The
// session evicts superseded background-removal results.
type Store struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewStore creates and initializes a new empty store.
func NewStore() *Store {
	return &Store{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the store or decodes it from disk.
//
// Supported file formats are PNG, JPEG, GIF and WebP. Memory refs that were
// evicted or never stored return an error.
func (s *Store) Load(ref string) (image.Image, error) {
	s.mu.RLock()
	if img, ok := s.images[ref]; ok {
		s.mu.RUnlock()
		return img, nil
	}
	s.mu.RUnlock()

	if strings.HasPrefix(ref, MemoryRefPrefix) {
		return nil, fmt.Errorf("image %q is not in the store", ref)
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	s.mu.Lock()
	s.images[ref] = img
	s.mu.Unlock()

	return img, nil
}

// Put stores img under a new memory ref and returns the ref.
func (s *Store) Put(img image.Image) string {
	ref := MemoryRefPrefix + uuid.NewString()
	s.mu.Lock()
	s.images[ref] = img
	s.mu.Unlock()
	return ref
}

// PutEncoded decodes data (any registered format) and stores the result
// under a new memory ref.
func (s *Store) PutEncoded(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	return s.Put(img), nil
}

// Evict removes a single ref. Unknown refs are ignored.
func (s *Store) Evict(ref string) {
	s.mu.Lock()
	delete(s.images, ref)
	s.mu.Unlock()
}

// Size is the native pixel size of an image.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Dimensions returns the native pixel size of the image behind ref.
func (s *Store) Dimensions(ref string) (Size, error) {
	img, err := s.Load(ref)
	if err != nil {
		return Size{}, err
	}
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}, nil
}

// Info contains metadata about an image ref.
type Info struct {
	Ref      string `json:"ref"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	HasAlpha bool   `json:"has_alpha"`
}

// LoadInfo loads ref and describes it. The format comes from the file
// extension; memory refs report "memory".
func (s *Store) LoadInfo(ref string) (*Info, error) {
	img, err := s.Load(ref)
	if err != nil {
		return nil, err
	}

	format := "unknown"
	if strings.HasPrefix(ref, MemoryRefPrefix) {
		format = "memory"
	} else {
		switch strings.ToLower(filepath.Ext(ref)) {
		case ".png":
			format = "png"
		case ".jpg", ".jpeg":
			format = "jpeg"
		case ".gif":
			format = "gif"
		case ".webp":
			format = "webp"
		}
	}

	hasAlpha := false
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.Paletted:
		hasAlpha = true
	}

	b := img.Bounds()
	return &Info{
		Ref:      ref,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Format:   format,
		HasAlpha: hasAlpha,
	}, nil
}
