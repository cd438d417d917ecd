// Package validate checks cache request structs against their `validate`
// tags and reports failures as CACHE_INVALID_ARGUMENT errors.
package validate

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Struct validates value and returns a domain error naming the first failing
// field.
func Struct(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return apperrors.WrapWithMetadata(
			apperrors.CodeInvalidArgument,
			fmt.Sprintf("invalid %s", first.Field()),
			map[string]string{"Field": first.Field(), "Rule": first.Tag()},
			err,
		)
	}
	return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request", err)
}
