// validate.go -- Field rules for profile creation.
package profile

import (
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
)

const (
	maxNameLen  = 50
	maxEmailLen = 100
)

// Letters (ASCII and Latin-1 accented), whitespace, apostrophe, hyphen.
var namePattern = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s'-]+$`)

// FieldError names the field that failed and why.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every failed field.
type ValidationError []FieldError

func (v ValidationError) Error() string {
	msgs := make([]string, len(v))
	for i, f := range v {
		msgs[i] = f.Message
	}
	return "invalid profile: " + strings.Join(msgs, "; ")
}

// ValidateName returns a failure message or "" for a first or last name.
func ValidateName(label, name string) string {
	n := utf8.RuneCountInString(name)
	switch {
	case n < 1:
		return label + " is required"
	case n > maxNameLen:
		return fmt.Sprintf("%s cannot exceed %d characters", label, maxNameLen)
	case !namePattern.MatchString(name):
		return label + " contains invalid characters"
	}
	return ""
}

// ValidateEmail returns a failure message or "" for a profile email.
func ValidateEmail(email string) string {
	switch {
	case email == "":
		return "Email is required"
	case utf8.RuneCountInString(email) > maxEmailLen:
		return fmt.Sprintf("Email cannot exceed %d characters", maxEmailLen)
	}
	if addr, err := netmail.ParseAddress(email); err != nil || addr.Address != email {
		return "Invalid email"
	}
	return ""
}

// Validate checks p and returns it normalized: names trimmed, email trimmed
// and lower-cased. Rules apply to the raw values.
func Validate(p PendingProfile) (PendingProfile, error) {
	var errs ValidationError
	if _, err := uuid.FromString(p.UserID); err != nil {
		errs = append(errs, FieldError{"userId", "Invalid user ID"})
	}
	if msg := ValidateName("First name", p.FirstName); msg != "" {
		errs = append(errs, FieldError{"firstName", msg})
	}
	if msg := ValidateName("Last name", p.LastName); msg != "" {
		errs = append(errs, FieldError{"lastName", msg})
	}
	if msg := ValidateEmail(p.Email); msg != "" {
		errs = append(errs, FieldError{"email", msg})
	}
	if len(errs) > 0 {
		return p, errs
	}

	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	return p, nil
}
