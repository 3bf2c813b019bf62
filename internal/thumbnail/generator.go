// Package thumbnail implements the thumbnail-generate job: it scales a
// profile's avatar into a bounding box and stores the result next to it.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"path"
	"strings"

	_ "image/gif"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/storage/blob"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/worker"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSize = 150

	// MaxSourcePixels bounds the decoded size of an avatar. The upload limit
	// only caps the compressed bytes.
	MaxSourcePixels = 40_000_000
)

// ErrImageTooLarge is returned for avatars whose header declares more than
// MaxSourcePixels pixels.
var ErrImageTooLarge = errors.New("avatar dimensions too large")

// Profiles is the profile access the generator needs.
type Profiles interface {
	Get(ctx context.Context, id uint) (*models.Profile, error)
	UpdateThumbnail(ctx context.Context, id uint, key string) error
}

type Generator struct {
	profiles Profiles
	blobs    blob.Store
	maxSize  int
	logger   *slog.Logger
}

func NewGenerator(profiles Profiles, blobs blob.Store, maxSize int, logger *slog.Logger) *Generator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{profiles: profiles, blobs: blobs, maxSize: maxSize, logger: logger}
}

// Handle is a worker.Handler. It expects kwargs {"profile_id": n}.
func (g *Generator) Handle(ctx context.Context, payload dto.Payload) (any, error) {
	profileID, err := payload.UintKwarg("profile_id")
	if err != nil {
		return nil, worker.Permanent(err)
	}

	p, err := g.profiles.Get(ctx, profileID)
	if err != nil {
		if errors.Is(err, postgres.ErrProfileNotFound) {
			return nil, worker.Permanent(fmt.Errorf("profile %d: %w", profileID, err))
		}
		return nil, err
	}

	if p.Avatar == "" {
		g.logger.Info("profile has no avatar", "profile_id", profileID)
		return map[string]any{"generated": false}, nil
	}

	src, err := g.blobs.Get(ctx, p.Avatar)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, worker.Permanent(err)
		}
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, worker.Permanent(fmt.Errorf("decode avatar %s: %w", p.Avatar, err))
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, worker.Permanent(fmt.Errorf("%w: %s is %dx%d", ErrImageTooLarge, p.Avatar, cfg.Width, cfg.Height))
	}

	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, worker.Permanent(fmt.Errorf("decode avatar %s: %w", p.Avatar, err))
	}

	out, contentType, ext, err := encode(Fit(img, g.maxSize), format)
	if err != nil {
		return nil, err
	}

	key := ThumbnailKey(p.Avatar, ext)
	if _, err := g.blobs.Put(ctx, key, out, contentType); err != nil {
		return nil, err
	}

	if err := g.profiles.UpdateThumbnail(ctx, p.ID, key); err != nil {
		return nil, err
	}

	g.logger.Info("thumbnail generated", "profile_id", profileID, "thumbnail", key)
	return map[string]any{"generated": true, "thumbnail": key}, nil
}

// Fit scales img down so it fits in a maxSize square, keeping the aspect
// ratio. Images that already fit are returned unchanged.
func Fit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	nw, nh := maxSize, maxSize
	if w > h {
		nh = max(h*maxSize/w, 1)
	} else {
		nw = max(w*maxSize/h, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// ThumbnailKey derives the thumbnail key for an avatar key:
// avatars/me.png becomes avatars/thumbnails/me_thumbnail.png. An empty ext
// keeps the avatar's extension.
func ThumbnailKey(avatarKey, ext string) string {
	dir, file := path.Split(avatarKey)
	orig := path.Ext(file)
	name := strings.TrimSuffix(file, orig)
	if ext == "" {
		ext = orig
	}
	return path.Join(dir, "thumbnails", name+"_thumbnail"+ext)
}

// encode writes jpeg avatars back as jpeg and everything else as png.
func encode(img image.Image, format string) ([]byte, string, string, error) {
	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", "", fmt.Errorf("encode thumbnail: %w", err)
		}
		return buf.Bytes(), "image/jpeg", "", nil
	}

	if err := png.Encode(&buf, img); err != nil {
		return nil, "", "", fmt.Errorf("encode thumbnail: %w", err)
	}
	ext := ""
	if format != "png" {
		ext = ".png"
	}
	return buf.Bytes(), "image/png", ext, nil
}
