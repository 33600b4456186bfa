// Package validation checks request structs with go-playground/validator and
// turns failures into validation AppErrors.
package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// tagCodes maps a failing tag to the error code reported for it. Tags not
// listed report INVALID_INPUT.
var tagCodes = map[string]string{
	"iso4217":         errors.CodeInvalidCurrency,
	"positive_amount": errors.CodeInvalidAmount,
}

// Validator returns the shared validator with the marketplace rules
// registered
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})

		// registration only fails on an empty tag or nil func
		_ = v.RegisterValidation("iso4217", validateCurrency)
		_ = v.RegisterValidation("positive_amount", validatePositiveAmount)

		instance = v
	})
	return instance
}

// Struct validates s and returns a validation AppError describing every
// failing field
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.NewValidationError(errors.CodeInvalidInput, err.Error())
	}

	code := errors.CodeInvalidInput
	details := make(map[string]interface{}, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if c, ok := tagCodes[fe.Tag()]; ok && code == errors.CodeInvalidInput {
			code = c
		}
		details[fe.Field()] = fe.Tag()
		messages = append(messages, fe.Field()+" failed "+fe.Tag())
	}

	return errors.NewValidationError(code, "invalid request: "+strings.Join(messages, "; ")).
		WithDetails(details)
}

func validateCurrency(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		c, isCurrency := fl.Field().Interface().(values.Currency)
		if !isCurrency {
			return false
		}
		s = string(c)
	}
	_, err := values.ParseCurrency(s)
	return err == nil
}

func validatePositiveAmount(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return v.IsPositive()
	case *decimal.Decimal:
		return v != nil && v.IsPositive()
	default:
		return false
	}
}
