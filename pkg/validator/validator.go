// Package validator checks request structs with go-playground/validator and
// reports failures per JSON field.
package validator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/localguide/reviews/pkg/slug"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("integral", integral)
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slug.Valid(fl.Field().String())
	})
	return v
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// integral accepts whole numbers, including floats such as 4.0 that arrive
// from JSON.
func integral(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch {
	case f.CanInt(), f.CanUint():
		return true
	case f.CanFloat():
		x := f.Float()
		return !math.IsInf(x, 0) && x == math.Trunc(x)
	}
	return false
}

// Validate returns a *ValidationError listing every failing field of s.
func Validate(s any) error {
	err := validate.Struct(s)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return &ValidationError{Errors: fieldErrs}
	}
	return err
}

type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field()+" "+message(fe))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields maps each failing JSON field to a readable message. A field that
// breaks several rules reports the first.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = message(fe)
		}
	}
	return fields
}

func message(fe validator.FieldError) string {
	numeric := fe.Kind() != reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if numeric {
			return "must be at least " + fe.Param()
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if numeric {
			return "must be at most " + fe.Param()
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "integral":
		return "must be a whole number"
	case "slug":
		return "must be a lowercase slug"
	case "uuid":
		return "must be a valid id"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed the %s check", fe.Tag())
}
