package database

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateTemplate checks a template before it is stored or matched against.
func ValidateTemplate(t FaceTemplate) error {
	if err := validatorInstance().Struct(t); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidTemplate, t.Identity, err)
	}
	return nil
}

// ValidateTemplates checks every template and that all embeddings share one dimension.
func ValidateTemplates(templates []FaceTemplate) error {
	dim := -1
	for i := range templates {
		if err := ValidateTemplate(templates[i]); err != nil {
			return err
		}
		if dim == -1 {
			dim = len(templates[i].Embedding)
		} else if len(templates[i].Embedding) != dim {
			return fmt.Errorf("%w %q: embedding dimension %d, expected %d",
				ErrInvalidTemplate, templates[i].Identity, len(templates[i].Embedding), dim)
		}
	}
	return nil
}

// ValidateRecord checks an attendance row at the persistence boundary.
func ValidateRecord(r AttendanceRecord) error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if r.CheckOut != nil && r.CheckOut.Before(r.CheckIn) {
		return fmt.Errorf("%w: check-out %s before check-in %s",
			ErrInvalidRecord, r.CheckOut.Format("15:04:05"), r.CheckIn.Format("15:04:05"))
	}
	return nil
}
