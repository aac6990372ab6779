package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"brewcast/internal/types"
)

// Validator wraps go-playground/validator with JSON field naming and the
// domain tags used by request DTOs.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom tags:
//
//	notblank  string is non-empty after trimming spaces
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil && logger != nil {
		logger.Error("failed to register validation tag", "tag", "notblank", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns nil or a validation AppError whose
// details map each failing JSON field path to the tag that rejected it.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidField, "invalid request", err)
	}

	fields := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationInvalidField
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = fe.Tag()
		if fe.Tag() == "required" || fe.Tag() == "notblank" {
			code = types.ErrCodeValidationMissingField
		}
	}
	if len(verrs) == 1 && verrs[0].Tag() == "max" && strings.HasSuffix(verrs[0].Namespace(), "requests") {
		code = types.ErrCodeValidationBatchSize
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", err, map[string]any{
		"fields": fields,
	})
}

// fieldPath strips the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
