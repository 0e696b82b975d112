package vault

// Algorithm identifiers recorded in blobs. Only the XChaCha20 variant is
// produced today; the 96-bit-nonce variant is decrypt-only for blobs written
// by older releases.
const (
	AlgXChaCha20Poly1305 = "xchacha20poly1305"
	AlgChaCha20Poly1305  = "chacha20poly1305"
)

// Blob is an encrypted credential payload as persisted in an account record.
// Nonce and Ciphertext are base64url-encoded without padding.
type Blob struct {
	Alg        string `json:"alg"`
	KeyVersion uint32 `json:"keyVersion"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// NeedsRotation reports whether the blob predates the current algorithm or
// key version. Callers re-encrypt such blobs after a successful decrypt so
// old ciphertext ages out without a migration pass.
func NeedsRotation(blob *Blob) bool {
	if blob == nil {
		return false
	}
	return blob.Alg != AlgXChaCha20Poly1305 || blob.KeyVersion < CurrentKeyVersion
}
