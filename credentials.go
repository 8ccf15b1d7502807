package authcore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// bcrypt ignores everything past 72 bytes
const maxPasswordBytes = 72

// Credentials is the input of registration and login
type Credentials struct {
	Name     string
	Email    string
	Password string
}

// PasswordPolicy constrains registration and reset input
type PasswordPolicy struct {
	MinPasswordLength int
	MaxNameLength     int
}

// DefaultPasswordPolicy returns the policy used when none is configured
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinPasswordLength: 8,
		MaxNameLength:     100,
	}
}

func (p PasswordPolicy) withDefaults() PasswordPolicy {
	def := DefaultPasswordPolicy()
	if p.MinPasswordLength <= 0 {
		p.MinPasswordLength = def.MinPasswordLength
	}
	if p.MaxNameLength <= 0 {
		p.MaxNameLength = def.MaxNameLength
	}
	return p
}

// ValidateEmail checks the shape of an already normalized email
func ValidateEmail(email string) *AuthError {
	if email == "" {
		return ValidationError(ErrCodeMissingField, "Email is required", "email")
	}
	if !emailRegex.MatchString(email) {
		return ValidationError(ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	return nil
}

func (p PasswordPolicy) ValidatePassword(password string) *AuthError {
	p = p.withDefaults()
	if password == "" {
		return ValidationError(ErrCodeMissingField, "Password is required", "password")
	}
	if utf8.RuneCountInString(password) < p.MinPasswordLength {
		return ValidationError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", p.MinPasswordLength), "password")
	}
	if len(password) > maxPasswordBytes {
		return ValidationError(ErrCodeWeakPassword, fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes), "password")
	}
	return nil
}

func (p PasswordPolicy) ValidateName(name string) *AuthError {
	p = p.withDefaults()
	if name == "" {
		return ValidationError(ErrCodeMissingField, "Name is required", "name")
	}
	if utf8.RuneCountInString(name) > p.MaxNameLength {
		return ValidationError(ErrCodeInvalidName, fmt.Sprintf("Name must be at most %d characters", p.MaxNameLength), "name")
	}
	return nil
}

// ValidateRegistration validates and normalizes registration input in place
func (p PasswordPolicy) ValidateRegistration(creds *Credentials) *AuthError {
	creds.Name = strings.TrimSpace(creds.Name)
	creds.Email = NormalizeEmail(creds.Email)
	if err := p.ValidateName(creds.Name); err != nil {
		return err
	}
	if err := ValidateEmail(creds.Email); err != nil {
		return err
	}
	return p.ValidatePassword(creds.Password)
}

// readFields reads string fields from a JSON or form encoded body
func readFields(r *http.Request, names ...string) (map[string]string, *AuthError) {
	out := make(map[string]string, len(names))
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, ValidationError(ErrCodeInvalidBody, "Error parsing form", "")
		}
		for _, name := range names {
			out[name] = r.FormValue(name)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&data); err != nil || data == nil {
		return nil, ValidationError(ErrCodeInvalidBody, "Invalid post body", "")
	}
	for _, name := range names {
		if v, ok := data[name].(string); ok {
			out[name] = v
		}
	}
	return out, nil
}

// requireFields returns a validation error naming the first empty field
func requireFields(fields map[string]string, names ...string) *AuthError {
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return ValidationError(ErrCodeMissingField, fmt.Sprintf("%s is required", name), name)
		}
	}
	return nil
}
