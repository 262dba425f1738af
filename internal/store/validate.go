package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidEntry wraps every validation failure from Validate.
var ErrInvalidEntry = errors.New("invalid entry")

var (
	categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	validate        = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return categoryPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the user-supplied fields of e.
func Validate(e Entry) error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// PrepareNew normalizes e, fills in store-owned fields and validates it.
// Backends call it from Create.
func PrepareNew(e Entry, now time.Time) (Entry, error) {
	e = normalize(e)
	e.ID = uuid.NewString()
	e.CreatedAt = now.UTC()
	e.LaunchCount = 0
	e.LastLaunchedAt = nil
	if err := Validate(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// PrepareUpdate normalizes and validates the editable fields of e.
func PrepareUpdate(e Entry) (Entry, error) {
	if strings.TrimSpace(e.ID) == "" {
		return Entry{}, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	e = normalize(e)
	if err := Validate(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func normalize(e Entry) Entry {
	e.Name = strings.TrimSpace(e.Name)
	e.ExecutablePath = strings.TrimSpace(e.ExecutablePath)
	if e.WorkingDirectory != nil && strings.TrimSpace(*e.WorkingDirectory) == "" {
		e.WorkingDirectory = nil
	}
	e.Category = strings.ToLower(strings.TrimSpace(e.Category))
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	return e
}
