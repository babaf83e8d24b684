// Package media produces cropped thumbnails of uploaded attachments for the
// admin quick-edit screen.
package media

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"anchor-delivery/internal/apperror"
)

// Output modes.
const (
	ModeFit  = "fit"  // scale into the output box keeping aspect ratio
	ModeFill = "fill" // stretch to the output box exactly
)

// MaxOutputSide bounds the requested output dimensions.
const MaxOutputSide = 4096

type CropRequest struct {
	PostID       string `json:"postId"`
	AttachmentID string `json:"attachmentId"`
	X            int    `json:"x"`
	Y            int    `json:"y"`
	W            int    `json:"w"`
	H            int    `json:"h"`
	OutWidth     int    `json:"outWidth"`
	OutHeight    int    `json:"outHeight"`
	Mime         string `json:"mime"`
	Mode         string `json:"mode"`
}

type CropResult struct {
	Message  string `json:"message"`
	ThumbURL string `json:"thumbUrl"`
}

// Processor reads attachments from Dir and writes thumbnails to Dir/thumbs,
// served under BaseURL.
type Processor struct {
	Dir     string
	BaseURL string
}

func NewProcessor(dir, baseURL string) *Processor {
	return &Processor{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Crop cuts the requested rectangle out of the attachment, scales it and
// writes the thumbnail. Each call overwrites the previous thumbnail for the
// same post, attachment and size.
func (p *Processor) Crop(ctx context.Context, req CropRequest) (CropResult, error) {
	if err := req.validate(); err != nil {
		return CropResult{}, err
	}
	src, format, err := p.open(req.AttachmentID)
	if err != nil {
		return CropResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return CropResult{}, err
	}

	b := src.Bounds()
	rect := image.Rect(b.Min.X+req.X, b.Min.Y+req.Y, b.Min.X+req.X+req.W, b.Min.Y+req.Y+req.H).Intersect(b)
	if rect.Empty() {
		return CropResult{}, apperror.NewValidation("crop rectangle lies outside the image")
	}

	outW, outH := outputSize(rect.Dx(), rect.Dy(), req.OutWidth, req.OutHeight, req.Mode)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, rect, draw.Over, nil)

	mime := req.Mime
	if mime == "" {
		mime = "image/" + format
	}
	ext := ".jpg"
	if mime == "image/png" {
		ext = ".png"
	}
	name := fmt.Sprintf("%s-%s-%dx%d%s", req.PostID, req.AttachmentID, outW, outH, ext)
	if err := p.write(filepath.Join(p.Dir, "thumbs", name), dst, ext); err != nil {
		return CropResult{}, apperror.NewInternal(err)
	}

	log.Info().Str("post", req.PostID).Str("attachment", req.AttachmentID).
		Int("width", outW).Int("height", outH).Msg("thumbnail written")
	return CropResult{
		Message:  "Thumbnail updated",
		ThumbURL: p.BaseURL + path.Join("/thumbs", name),
	}, nil
}

func (r CropRequest) validate() error {
	if !safeID(r.PostID) || !safeID(r.AttachmentID) {
		return apperror.NewValidation("postId and attachmentId are required")
	}
	if r.W <= 0 || r.H <= 0 || r.X < 0 || r.Y < 0 {
		return apperror.NewValidation("crop rectangle must have a positive size")
	}
	if r.OutWidth < 0 || r.OutHeight < 0 || r.OutWidth > MaxOutputSide || r.OutHeight > MaxOutputSide {
		return apperror.NewValidation(fmt.Sprintf("output size must be between 0 and %d", MaxOutputSide))
	}
	switch r.Mode {
	case "", ModeFit, ModeFill:
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown mode %q", r.Mode))
	}
	switch r.Mime {
	case "", "image/jpeg", "image/png":
	default:
		return apperror.NewValidation(fmt.Sprintf("unsupported output type %q", r.Mime))
	}
	return nil
}

func safeID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// open decodes the first file in Dir named <id>.<ext>.
func (p *Processor) open(id string) (image.Image, string, error) {
	matches, err := filepath.Glob(filepath.Join(p.Dir, id+".*"))
	if err != nil || len(matches) == 0 {
		return nil, "", apperror.NewNotFound("attachment not found")
	}
	f, err := os.Open(matches[0])
	if err != nil {
		return nil, "", apperror.NewNotFound("attachment not found")
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", apperror.NewValidation("attachment is not a supported image")
	}
	return img, format, nil
}

func (p *Processor) write(dst string, img image.Image, ext string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create thumbs dir: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	defer f.Close()

	if ext == ".png" {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}

// outputSize resolves the target dimensions. A zero side is derived from the
// crop aspect; fit shrinks the box to the crop aspect ratio.
func outputSize(cw, ch, ow, oh int, mode string) (int, int) {
	switch {
	case ow == 0 && oh == 0:
		return cw, ch
	case ow == 0:
		return max(1, cw*oh/ch), oh
	case oh == 0:
		return ow, max(1, ch*ow/cw)
	}
	if mode == ModeFill {
		return ow, oh
	}
	if cw*oh > ch*ow {
		return ow, max(1, ch*ow/cw)
	}
	return max(1, cw*oh/ch), oh
}
