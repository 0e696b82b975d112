// Package config loads warden's configuration: daemon listen settings and
// the provider catalogue describing how each third-party provider
// authenticates (authorization-code with PKCE, device-code polling, cookie
// session capture, or a plain API key).
//
// Configuration lives in ~/.config/warden/config.yaml. A missing file means
// defaults; a malformed or invalid file is an error.
package config
