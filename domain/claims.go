package domain

import (
	"strings"

	rserrors "go.pilab.hu/radsync/errors"
)

// Claims is the verified identity claim set handed to the coordinator.
// Signature verification happens upstream of this layer; Validate is the
// single trust-boundary check, replacing ad-hoc key lookups on a loose bag.
type Claims struct {
	// Subject is the stable user identifier. Required.
	Subject string
	// SessionState is the provider-issued session marker. When present it
	// becomes the session ID, correlating this service's session record with
	// the provider's own session lifecycle.
	SessionState      string
	PreferredUsername string
	Email             string
	Roles             []string
}

// Validate checks the claim set at the trust boundary.
func (c Claims) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return rserrors.NewAuthentication("missing subject claim")
	}
	return nil
}

// UserInfo projects the display fields of the claim set.
func (c Claims) UserInfo() UserInfo {
	return UserInfo{
		PreferredUsername: c.PreferredUsername,
		Email:             c.Email,
		Roles:             c.Roles,
	}
}
