// Package auth defines the wire types of the local daemon's HTTP API: the
// shared contract between warden's CLI, the daemon, and any UI frontend
// driving authentication flows over the loopback socket.
//
// The types here carry no behavior. Error kinds are stable machine-readable
// strings so frontends can branch on failure categories without parsing
// messages.
package auth
