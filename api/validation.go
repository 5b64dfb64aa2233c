package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator with the decimal tags registered.
//
// Decimals are presented to the validator as their string form, so the
// custom tags below parse them back:
//
//	decimal_gt0    strictly positive
//	decimal_gte0   zero or positive
//	decimal_ne0    anything but zero
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()

		validate.RegisterCustomTypeFunc(func(v reflect.Value) any {
			if d, ok := v.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})

		decimalTags := map[string]func(decimal.Decimal) bool{
			"decimal_gt0":  decimal.Decimal.IsPositive,
			"decimal_gte0": func(d decimal.Decimal) bool { return !d.IsNegative() },
			"decimal_ne0":  func(d decimal.Decimal) bool { return !d.IsZero() },
		}
		for tag, ok := range decimalTags {
			if err := validate.RegisterValidation(tag, decimalCheck(ok)); err != nil {
				panic(fmt.Sprintf("register validation %s: %v", tag, err))
			}
		}

		// Use JSON tag names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

func decimalCheck(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && ok(d)
	}
}

// requestError is a malformed or invalid request body. It is reported as a
// validation error with per-field messages.
type requestError struct {
	message string
	fields  map[string]string
}

func (e *requestError) Error() string { return e.message }

// decodeAndValidate reads a JSON body into dst and validates it.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &requestError{message: "invalid request body: " + err.Error()}
	}
	if err := getValidator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fieldPath(fe)] = formatValidationError(fe)
			}
			return &requestError{message: "request validation failed", fields: fields}
		}
		return &requestError{message: err.Error()}
	}
	return nil
}

// fieldPath drops the top-level struct name: "details[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + e.Param() + " is not given"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "min":
		return "must have at least " + e.Param() + " entries"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "datetime":
		return "must be a date in " + e.Param() + " format"
	case "decimal_gt0":
		return "must be a number greater than zero"
	case "decimal_gte0":
		return "must be a number not below zero"
	case "decimal_ne0":
		return "must be a non-zero number"
	}
	return fmt.Sprintf("failed on %s", e.Tag())
}
