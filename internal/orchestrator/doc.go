// Package orchestrator drives authentication flows from start to finish and
// owns the glue between the protocol components and the credential vault.
//
// A flow begins with StartFlow, which prepares the protocol-specific state
// for the account's provider (a PKCE challenge plus loopback callback
// listener, a device authorization request, or an interactive browser
// surface), registers a pending flow, and hands the caller an authorization
// URL to present to the user. FinishFlow then waits for the flow's terminal
// outcome, performs the token exchange where the protocol has one, encrypts
// the resulting credential payload through the vault, and persists it on the
// account record. CancelFlow aborts a flow cooperatively at any point.
//
// # Lifecycle guarantees
//
// Every flow is removed from the pending-flow registry on its first terminal
// outcome, whether that is success, cancellation, timeout, or a hard error.
// A second FinishFlow on the same request id therefore reports the flow as
// not found, and two concurrent waiters are told apart: the first claims the
// flow, the second fails distinctly instead of racing. When the token
// exchange succeeds but persistence fails, the flow is still removed and
// the caller is told persistence failed; the authorization itself cannot be
// replayed.
//
// # Credential reads
//
// Credentials decrypts an account's stored payload on demand and transparently
// re-encrypts blobs written under an older algorithm or key version, so old
// ciphertext ages out without a migration pass. A blob that fails to decrypt
// is reported as a crypto error, never as missing credentials.
package orchestrator
