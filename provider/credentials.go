package provider

import (
	"errors"
	"strings"
)

// Credentials holds explicit credentials for bindings that cannot use the
// logon session.
type Credentials struct {
	// Username is the user name, optionally in DOMAIN\user or user@realm form.
	Username string

	// Password is the password for authentication.
	Password string

	// Domain is the optional NetBIOS domain for NTLM.
	Domain string

	// Workstation is sent in the NTLM negotiate message when set.
	Workstation string
}

// Validate checks that required credential fields are populated.
func (c *Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// split separates a DOMAIN\user name. An explicit Domain wins.
func (c *Credentials) split() (domain, user string) {
	domain, user = c.Domain, c.Username
	if d, u, ok := strings.Cut(c.Username, `\`); ok {
		user = u
		if domain == "" {
			domain = d
		}
	}
	return domain, user
}

// LogonName returns DOMAIN\user, or the bare user when no domain is known.
func (c *Credentials) LogonName() string {
	domain, user := c.split()
	if domain == "" {
		return user
	}
	return domain + `\` + user
}
