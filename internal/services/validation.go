package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

var clockTimeRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

const (
	maxRecurringSpanDays = 366
	minDurationMinutes   = 5
	maxDurationMinutes   = 480
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (v ValidationErrors) Unwrap() error {
	return apperrors.ErrValidation
}

// SlotInput describes one session to create.
type SlotInput struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty" validate:"omitempty,min=5,max=480"`
	TrainerID       *int64     `json:"trainer_id,omitempty" validate:"omitempty,gt=0"`
	ClientID        *int64     `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	Location        string     `json:"location,omitempty" validate:"max=120"`
	Notes           string     `json:"notes,omitempty" validate:"max=2000"`
}

// RecurringPattern expands into one slot per matching day and time of day.
// DaysOfWeek uses 0 for Sunday.
type RecurringPattern struct {
	StartDate       string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string   `json:"end_date" validate:"required,datetime=2006-01-02"`
	DaysOfWeek      []int    `json:"days_of_week" validate:"required,min=1,max=7,dive,min=0,max=6"`
	Times           []string `json:"times" validate:"required,min=1,max=24,dive,clock_time"`
	TrainerID       *int64   `json:"trainer_id,omitempty" validate:"omitempty,gt=0"`
	ClientID        *int64   `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	Location        string   `json:"location,omitempty" validate:"max=120"`
	DurationMinutes int      `json:"duration_minutes,omitempty" validate:"omitempty,min=5,max=480"`
	Notes           string   `json:"notes,omitempty" validate:"max=2000"`
}

type SlotValidator struct {
	validate *validator.Validate
}

func NewSlotValidator(log *logger.Logger) *SlotValidator {
	v := validator.New()

	if err := v.RegisterValidation("clock_time", validateClockTime); err != nil {
		log.Fatal("Failed to register 'clock_time' validator",
			"error", err,
		)
	}

	return &SlotValidator{validate: v}
}

func validateClockTime(fl validator.FieldLevel) bool {
	return clockTimeRegex.MatchString(fl.Field().String())
}

// ValidateSlot checks the shape of a slot; now is the reference for "future".
func (v *SlotValidator) ValidateSlot(slot *SlotInput, now time.Time) error {
	if err := v.validate.Struct(slot); err != nil {
		return translate(err)
	}

	if slot.Start.IsZero() {
		return ValidationErrors{{Field: "start", Message: "start is required"}}
	}
	if !slot.Start.After(now) {
		return ValidationErrors{{Field: "start", Message: "start must be in the future"}}
	}
	if slot.End != nil {
		if !slot.End.After(slot.Start) {
			return ValidationErrors{{Field: "end", Message: "end must be after start"}}
		}
		// end wins over duration_minutes, so the derived length gets the same bounds.
		minutes := int(slot.End.Sub(slot.Start) / time.Minute)
		if minutes < minDurationMinutes || minutes > maxDurationMinutes {
			return ValidationErrors{{Field: "end", Message: fmt.Sprintf("session must last between %d and %d minutes", minDurationMinutes, maxDurationMinutes)}}
		}
	}
	if slot.TrainerID != nil && slot.ClientID != nil && *slot.TrainerID == *slot.ClientID {
		return ValidationErrors{{Field: "user_id", Message: "trainer and client must differ"}}
	}
	return nil
}

func (v *SlotValidator) ValidatePattern(pattern *RecurringPattern) error {
	if err := v.validate.Struct(pattern); err != nil {
		return translate(err)
	}

	startDate, _ := time.Parse("2006-01-02", pattern.StartDate)
	endDate, _ := time.Parse("2006-01-02", pattern.EndDate)
	if endDate.Before(startDate) {
		return ValidationErrors{{Field: "end_date", Message: "end_date must not be before start_date"}}
	}
	if endDate.Sub(startDate) > maxRecurringSpanDays*24*time.Hour {
		return ValidationErrors{{Field: "end_date", Message: fmt.Sprintf("pattern may span at most %d days", maxRecurringSpanDays)}}
	}
	return nil
}

func (v *SlotValidator) ValidateSeriesUpdate(update *SeriesUpdate) error {
	if update.Location == nil && update.Notes == nil {
		return ValidationErrors{{Field: "location", Message: "location or notes is required"}}
	}
	if err := v.validate.Struct(update); err != nil {
		return translate(err)
	}
	return nil
}

func translate(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	out := make(ValidationErrors, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		out = append(out, ValidationError{
			Field:   fieldErr.Namespace(),
			Message: messageFor(fieldErr),
		})
	}
	return out
}

func messageFor(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fieldErr.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fieldErr.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fieldErr.Param())
	case "datetime":
		return fmt.Sprintf("must match layout %s", fieldErr.Param())
	case "clock_time":
		return "must be HH:MM"
	default:
		return fmt.Sprintf("failed %s validation", fieldErr.Tag())
	}
}
