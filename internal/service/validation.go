package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"shopkeeper/backend/internal/domain"
)

// ValidationError reports the first request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return err
	}
	first := failures[0]
	return &ValidationError{Field: first.Field(), Message: describeTag(first)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "datetime":
		return "must be YYYY-MM-DD"
	}
	return "is invalid"
}

func requirePositiveQty(field string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fieldError(field, "must be greater than 0")
	}
	if qty.Exponent() < -3 && !qty.Equal(qty.Round(3)) {
		return fieldError(field, "supports at most 3 decimal places")
	}
	return nil
}

// normalizePhone parses a phone number for region and formats it as E.164.
// An empty input stays empty.
func normalizePhone(raw string, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(parsed) {
		return "", fieldError("phone", "is not a valid phone number")
	}
	return libphonenumber.Format(parsed, libphonenumber.E164), nil
}

func (s *Service) regionFor(shop *domain.Shop) string {
	if shop != nil && strings.TrimSpace(shop.PhoneRegion) != "" {
		return strings.ToUpper(shop.PhoneRegion)
	}
	return s.phoneRegion
}
