package models

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hkinc45/dev-kitchen-session/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateAddress checks the required address fields. Whitespace-only values count as missing.
func ValidateAddress(in AddressInput) error {
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.TrimSpace(in.State)
	in.Zip = strings.TrimSpace(in.Zip)

	err := validatorInstance().Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		missing := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
		return errors.NewValidationError(fmt.Sprintf("missing required address fields: %s", strings.Join(missing, ", ")))
	}
	return errors.NewValidationError(err.Error())
}

// ValidateProfilePatch rejects patches that blank out a required profile field.
func ValidateProfilePatch(p ProfilePatch) error {
	if p.FirstName != nil && strings.TrimSpace(*p.FirstName) == "" {
		return errors.NewValidationError("first_name is required")
	}
	if p.LastName != nil && strings.TrimSpace(*p.LastName) == "" {
		return errors.NewValidationError("last_name is required")
	}
	if p.UserType != nil && strings.TrimSpace(*p.UserType) == "" {
		return errors.NewValidationError("user_type is required")
	}
	if p.Password != nil && *p.Password == "" {
		return errors.NewValidationError("password must not be empty")
	}
	return nil
}

// MinPasswordLength is the shortest password the engine accepts.
const MinPasswordLength = 8

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.ErrWeakPassword
	}
	return nil
}

// ValidateCredits rejects negative balances.
func ValidateCredits(n int) error {
	if n < 0 {
		return errors.NewValidationError(fmt.Sprintf("credits must be >= 0, got %d", n))
	}
	return nil
}
