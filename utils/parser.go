package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mneepay/checkout/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return PhoneDigits(fl.Field().String()) >= MinPhoneDigits
	})
	return v
}

// Validator returns the shared validator with json field naming.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct runs struct tag validation and returns field keyed messages.
// Keys are dotted json paths below the root struct, e.g. "shipping.line1".
func ValidateStruct(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	return FieldErrors(err)
}

// FieldErrors converts validator errors into a field keyed message map.
func FieldErrors(err error) map[string]string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fieldPath(fe)] = ValidationMessage(fe)
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func ValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "phone":
		return fmt.Sprintf("must contain at least %d digits", MinPhoneDigits)
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}

// ParseProductConfig parses and validates a ProductConfig from JSON
func ParseProductConfig(data []byte) (*types.ProductConfig, error) {
	var cfg types.ProductConfig

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, types.WrapError(err, types.ErrConfigError, "failed to parse product config")
	}

	if fields := ValidateStruct(&cfg); fields != nil {
		return nil, types.NewError(types.ErrConfigError, "product config validation failed").WithData(fields)
	}

	return &cfg, nil
}

// ParseConfig parses and validates a checkout Config from JSON
func ParseConfig(data []byte) (*types.Config, error) {
	var cfg types.Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, types.WrapError(err, types.ErrConfigError, "failed to parse checkout config")
	}

	if fields := ValidateStruct(&cfg); fields != nil {
		return nil, types.NewError(types.ErrConfigError, "checkout config validation failed").WithData(fields)
	}

	return &cfg, nil
}

// ParseFlexibleTime parses timestamps in the formats the backend has emitted.
// Numeric input is treated as unix seconds, or milliseconds when large.
func ParseFlexibleTime(timeStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}

	var n int64
	if _, err := fmt.Sscanf(timeStr, "%d", &n); err == nil && fmt.Sprint(n) == timeStr {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", timeStr)
}
