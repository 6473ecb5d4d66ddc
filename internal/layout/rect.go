package layout

import (
	"sync"

	"collaborative-page-builder/internal/domain"
	apiError "collaborative-page-builder/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Grid column lines. A rectangle spanning the whole grid runs from MinCol to MaxCol.
const (
	MinCol = 1
	MaxCol = 13
)

// Rect is a grid rectangle as submitted by a client.
type Rect struct {
	RowStart   int `json:"row_start" validate:"min=1"`
	RowEnd     int `json:"row_end" validate:"gtfield=RowStart"`
	ColStart   int `json:"col_start" validate:"min=1,max=13"`
	ColEnd     int `json:"col_end" validate:"max=13,gtfield=ColStart"`
	RowEndSpan int `json:"row_end_span" validate:"min=0"`
	ColEndSpan int `json:"col_end_span" validate:"min=0"`
}

// DefaultLeafRect is where a leaf lands when created without a rectangle.
var DefaultLeafRect = Rect{RowStart: 1, RowEnd: 2, ColStart: 1, ColEnd: 2}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func rectValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRect checks that r lies on the grid. Violations come back as a
// validation APIError listing the offending fields.
func ValidateRect(r Rect) error {
	if err := rectValidator().Struct(r); err != nil {
		return apiError.NewValidationError(err).WithMessage("Invalid position")
	}
	return nil
}

// ToPosition converts r into the stored position of a component.
func (r Rect) ToPosition(componentID uint64) domain.ComponentPosition {
	return domain.ComponentPosition{
		ComponentID: componentID,
		RowStart:    r.RowStart,
		RowEnd:      r.RowEnd,
		ColStart:    r.ColStart,
		ColEnd:      r.ColEnd,
		RowEndSpan:  r.RowEndSpan,
		ColEndSpan:  r.ColEndSpan,
	}
}

// RectOf is the inverse of ToPosition.
func RectOf(p domain.ComponentPosition) Rect {
	return Rect{
		RowStart:   p.RowStart,
		RowEnd:     p.RowEnd,
		ColStart:   p.ColStart,
		ColEnd:     p.ColEnd,
		RowEndSpan: p.RowEndSpan,
		ColEndSpan: p.ColEndSpan,
	}
}
