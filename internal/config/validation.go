package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error.
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// providerIDPattern constrains provider ids to a short lowercase alphabet.
var providerIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		errs.Add("daemon.port", fmt.Sprintf("port %d out of range", c.Daemon.Port))
	}

	seen := make(map[string]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		field := fmt.Sprintf("providers[%d]", i)

		switch {
		case p.ID == "":
			errs.Add(field+".id", "required")
		case !providerIDPattern.MatchString(p.ID):
			errs.Add(field+".id", fmt.Sprintf("invalid provider id %q", p.ID))
		case seen[p.ID]:
			errs.Add(field+".id", fmt.Sprintf("duplicate provider id %q", p.ID))
		default:
			seen[p.ID] = true
		}

		switch p.Auth {
		case AuthKindPKCE:
			if p.ClientID == "" {
				errs.Add(field+".clientId", "required for pkce providers")
			}
			if p.IssuerURL == "" && (p.AuthorizationEndpoint == "" || p.TokenEndpoint == "") {
				errs.Add(field, "pkce providers need issuerUrl or both authorizationEndpoint and tokenEndpoint")
			}
		case AuthKindDeviceCode:
			if p.ClientID == "" {
				errs.Add(field+".clientId", "required for deviceCode providers")
			}
			if p.IssuerURL == "" && (p.DeviceAuthorizationEndpoint == "" || p.TokenEndpoint == "") {
				errs.Add(field, "deviceCode providers need issuerUrl or both deviceAuthorizationEndpoint and tokenEndpoint")
			}
		case AuthKindCookieSession:
			if p.SignInURL == "" {
				errs.Add(field+".signInUrl", "required for cookieSession providers")
			}
			if p.WorkspaceURLPattern == "" {
				errs.Add(field+".workspaceUrlPattern", "required for cookieSession providers")
			} else if _, err := p.WorkspacePattern(); err != nil {
				errs.Add(field+".workspaceUrlPattern", fmt.Sprintf("invalid pattern: %v", err))
			}
			if len(p.CookieSources) == 0 {
				errs.Add(field+".cookieSources", "at least one source URL required")
			}
			if p.AuthCookieName == "" {
				errs.Add(field+".authCookieName", "required for cookieSession providers")
			}
		case AuthKindAPIKey:
			// Nothing beyond the id: the key is supplied when the account
			// is linked.
		default:
			errs.Add(field+".auth", fmt.Sprintf("unknown auth kind %q", p.Auth))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
