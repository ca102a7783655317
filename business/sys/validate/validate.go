// Package validate provides struct-tag based validation for request payloads.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate holds the settings and caches for validating request values.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Check validates the provided value against its struct tags and returns a
// single error naming every failing field.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return err
		}

		fields := make([]string, 0, len(verrors))
		for _, verror := range verrors {
			fields = append(fields, fmt.Sprintf("%s[%s]", strings.ToLower(verror.Field()), verror.Tag()))
		}

		return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
	}

	return nil
}
