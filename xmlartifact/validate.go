package xmlartifact

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxTermMonths = 360

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func fieldValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(xmlName)
	})
	return validate
}

func xmlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("xml"), ",")
	return name
}

// Validate checks field formats and ranges. Errors wrap ErrInvalidPayload.
func Validate(p Payload) error {
	if err := checkPayloadText(p); err != nil {
		return err
	}
	if _, err := toNodes(p.Supplementary); err != nil {
		return err
	}

	v := fieldValidator()

	var problems []string
	for _, section := range []any{p.Application, p.Applicant} {
		if err := v.Struct(section); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
	}

	if p.Application.Amount != "" {
		if amount, err := decimal.NewFromString(p.Application.Amount); err == nil && amount.IsNegative() {
			problems = append(problems, "amount must not be negative")
		}
	}
	if p.Application.TermMonths != "" {
		if term, err := decimal.NewFromString(p.Application.TermMonths); err == nil {
			if !term.IsInteger() || term.LessThan(decimal.NewFromInt(1)) || term.GreaterThan(decimal.NewFromInt(maxTermMonths)) {
				problems = append(problems, fmt.Sprintf("term_months must be between 1 and %d", maxTermMonths))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}
	return nil
}
