package models

import "strings"

// Identity is the authenticated user as reported by the identity
// provider. It is read-only to this client except through the explicit
// profile update operation.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarURL,omitempty"`
}

// Name returns the display name, falling back to the local part of the
// email address when no display name is set.
func (id *Identity) Name() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if i := strings.IndexByte(id.Email, '@'); i > 0 {
		return id.Email[:i]
	}
	return id.Email
}
