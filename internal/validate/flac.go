package validate

import (
	"io"

	"github.com/mewkiz/flac"

	"github.com/fspulse/fspulse/internal/model"
)

// flacValidator decodes a FLAC file frame by frame, reporting Invalid
// on the first decode error and Valid once every frame has been read.
type flacValidator struct{}

func (flacValidator) Validate(path string, cancelled Cancelled) Result {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return Result{State: model.ValInvalid, Error: err.Error()}
	}
	defer stream.Close()

	for {
		if interrupted(cancelled) {
			return Result{State: model.ValUnknown}
		}

		if _, err := stream.ParseNext(); err != nil {
			if err == io.EOF {
				break
			}
			return Result{State: model.ValInvalid, Error: err.Error()}
		}
	}

	return Result{State: model.ValValid}
}

func (flacValidator) WantsSteadyTick() bool { return false }
