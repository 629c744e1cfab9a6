package validate

import (
	"github.com/ledongthuc/pdf"

	"github.com/fspulse/fspulse/internal/model"
)

// pdfValidator walks a PDF's object graph page by page, tolerating
// missing optional features (fonts, embedded content streams) but
// reporting a structurally broken document as Invalid.
type pdfValidator struct{}

func (pdfValidator) Validate(path string, cancelled Cancelled) Result {
	f, r, err := pdf.Open(path)
	if err != nil {
		return Result{State: model.ValInvalid, Error: err.Error()}
	}
	defer f.Close()

	numPage := r.NumPage()
	if numPage == 0 {
		return Result{State: model.ValInvalid, Error: "pdf has no pages"}
	}

	for i := 1; i <= numPage; i++ {
		if interrupted(cancelled) {
			return Result{State: model.ValUnknown}
		}

		page := r.Page(i)
		if page.V.IsNull() {
			return Result{State: model.ValInvalid, Error: "pdf page object is missing"}
		}
	}

	return Result{State: model.ValValid}
}

func (pdfValidator) WantsSteadyTick() bool { return true }
