package auth

import "errors"

// Classified authentication failures. Every user-initiated auth call
// funnels into one of these so the view can show a short message
// instead of a provider error code.
var (
	ErrInvalidEmail     = errors.New("auth: invalid email address")
	ErrWrongCredentials = errors.New("auth: invalid email or password")
	ErrEmailInUse       = errors.New("auth: email already registered")
	ErrWeakPassword     = errors.New("auth: password too weak")
	ErrNoSession        = errors.New("auth: no active session")
)

// Classify maps an auth error to its user-facing message. Unclassified
// errors get a generic line; they are never surfaced raw.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, ErrWrongCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrEmailInUse):
		return "This email address is already in use."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// classifyCode maps provider error codes to classified errors.
func classifyCode(code string) error {
	switch code {
	case "INVALID_EMAIL":
		return ErrInvalidEmail
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return ErrWrongCredentials
	case "EMAIL_EXISTS":
		return ErrEmailInUse
	default:
		// Weak-password responses carry a suffix with the minimum
		// length, e.g. "WEAK_PASSWORD : Password should be ...".
		if len(code) >= 13 && code[:13] == "WEAK_PASSWORD" {
			return ErrWeakPassword
		}
		return errors.New("auth: " + code)
	}
}
