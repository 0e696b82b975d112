// Package vault encrypts credential payloads at rest.
//
// The key hierarchy is rooted in a single 256-bit master key held in the OS
// keyring, created lazily on first use and cached in-process. Per-account
// keys are derived from it with HKDF-SHA256 using the credential id
// ("provider:account") as the info string, so independent accounts never
// share an encryption key and no derived key is ever stored. Payloads are
// sealed with XChaCha20-Poly1305 using the credential id as additional
// authenticated data, which binds each ciphertext to its owning account.
//
// Blobs produced here are opaque to every other package: the account store
// persists them verbatim and only the vault reads them back. Decryption
// failures are always surfaced as crypto errors, never as missing
// credentials, so a tampered blob cannot masquerade as "not signed in".
package vault
