package validate

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fspulse/fspulse/internal/model"
)

func TestRegistryForPath(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		path     string
		hasValid bool
	}{
		{"/music/track.flac", true},
		{"/music/TRACK.FLAC", true},
		{"/docs/report.pdf", true},
		{"/pics/photo.jpg", true},
		{"/pics/photo.JPEG", true},
		{"/pics/photo.png", true},
		{"/misc/readme.txt", false},
		{"/misc/noext", false},
	}

	for _, tt := range tests {
		v := r.ForPath(tt.path)
		if (v != nil) != tt.hasValid {
			t.Errorf("ForPath(%q) registered = %v, want %v", tt.path, v != nil, tt.hasValid)
		}
	}
}

func TestImageValidatorValidPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.png")
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		t.Fatal(err)
	}
	f.Close()

	v := imageValidator{}
	res := v.Validate(path, &atomic.Bool{})
	if res.State != model.ValValid {
		t.Errorf("Validate(good png) = %+v, want Valid", res)
	}
}

func TestImageValidatorInvalidBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(path, []byte("not a real png"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := imageValidator{}
	res := v.Validate(path, &atomic.Bool{})
	if res.State != model.ValInvalid || res.Error == "" {
		t.Errorf("Validate(bad png) = %+v, want Invalid with a message", res)
	}
}

// Mirrors §8 scenario 6: a truncated/corrupt FLAC file must report
// Invalid with a non-empty message, and must not panic the pipeline.
func TestFlacValidatorInvalidBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.flac")
	if err := os.WriteFile(path, []byte("fLaC-but-not-really-a-valid-stream"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := flacValidator{}
	res := v.Validate(path, &atomic.Bool{})
	if res.State != model.ValInvalid || res.Error == "" {
		t.Errorf("Validate(corrupt flac) = %+v, want Invalid with a message", res)
	}
}

func TestPDFValidatorInvalidBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	if err := os.WriteFile(path, []byte("not a pdf at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := pdfValidator{}
	res := v.Validate(path, &atomic.Bool{})
	if res.State != model.ValInvalid {
		t.Errorf("Validate(bad pdf) = %+v, want Invalid", res)
	}
}

func TestImageValidatorCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.png")
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	png.Encode(&buf, img)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	cancelled := &atomic.Bool{}
	cancelled.Store(true)

	v := imageValidator{}
	res := v.Validate(path, cancelled)
	if res.State != model.ValUnknown {
		t.Errorf("Validate with pre-set cancel flag = %+v, want Unknown", res)
	}
}
