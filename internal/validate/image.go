package validate

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/fspulse/fspulse/internal/model"
)

// imageValidator decodes a still image with the stdlib's registered
// decoders, mirroring the original's single-call ImageReader::open +
// decode.
type imageValidator struct{}

func (imageValidator) Validate(path string, cancelled Cancelled) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{State: model.ValInvalid, Error: err.Error()}
	}
	defer f.Close()

	if interrupted(cancelled) {
		return Result{State: model.ValUnknown}
	}

	if _, _, err := image.Decode(f); err != nil {
		return Result{State: model.ValInvalid, Error: err.Error()}
	}

	return Result{State: model.ValValid}
}

func (imageValidator) WantsSteadyTick() bool { return true }
