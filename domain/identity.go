// Package domain contains core concepts of the chat relay.
// This file defines Identity and its uniqueness rule.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"strings"

	"chat-relay/errors"
)

// Identity is the display name claiming exclusive use of a session.
// Uniqueness is decided on the lower-cased form, so "Alice" and "alice"
// cannot coexist. The display form keeps the casing the user typed.
type Identity string

// ParseIdentity trims surrounding whitespace and rejects empty names.
func ParseIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.ErrIdentityEmpty
	}
	return Identity(trimmed), nil
}

// Key returns the form used for uniqueness and map lookups.
func (i Identity) Key() string {
	return strings.ToLower(string(i))
}

func (i Identity) String() string {
	return string(i)
}
