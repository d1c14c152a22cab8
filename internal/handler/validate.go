package handler

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"schoolattend/internal/apperr"
	"schoolattend/internal/schedule"
)

var setupOnce sync.Once

// setupBinding rejects unknown JSON fields and registers the custom tags used by request structs:
// clock (HH:MM or HH:MM:SS) and date (YYYY-MM-DD). Weekday sets are checked by schedule.Rule so
// they fail with INVALID_RECURRENCE.
func setupBinding() {
	setupOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			_, err := schedule.ParseClock(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
			_, err := schedule.ParseDate(fl.Field().String())
			return err == nil
		})
	})
}

// bindError turns a gin binding failure into a validation error with per-field detail.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = describe(fe)
		}
		return apperr.Validation("request validation failed", fields)
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return apperr.Validation("request body is required", nil)
	case errors.As(err, &syntax):
		return apperr.Validation("malformed JSON", nil)
	case errors.As(err, &typeErr):
		return apperr.Field(typeErr.Field, "has the wrong type")
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apperr.Field(name, "is not a known field")
	}
	return apperr.Validation(err.Error(), nil)
}

// fieldPath drops the top-level struct name: "createSessionRequest.records[0].status" -> "records[0].status".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "oneof":
		return "must be one of " + fe.Param()
	case "clock":
		return "must be a time of day HH:MM[:SS]"
	case "date":
		return "must be a date YYYY-MM-DD"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
