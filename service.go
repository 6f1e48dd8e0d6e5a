package authflow

import (
	"strings"

	"github.com/badoux/checkmail"
)

// DefaultEmailValidator describes the defaultemailvalidator operation and its observable behavior.
//
// DefaultEmailValidator may return an error when input validation, dependency calls, or security checks fail.
// DefaultEmailValidator does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultEmailValidator(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 254 {
		return false
	}
	return checkmail.ValidateFormat(email) == nil
}
