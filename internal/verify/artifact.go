// Package verify decides whether a downloaded update artifact can be trusted.
package verify

// Artifact is a downloaded update payload and the claims made about it by
// the update feed.
type Artifact struct {
	// URL the payload was fetched from.
	URL string

	// Data is the raw payload.
	Data []byte

	// Signature is the base64 Ed25519 signature claimed by the feed.
	Signature string

	// Length is the size claimed by the feed; zero means unclaimed.
	Length int64

	// SHA256 is the hex digest claimed by the feed; empty means unclaimed.
	SHA256 string
}

// Wipe zeroes the payload and drops the reference so it is not left
// resident after install or abort.
func (a *Artifact) Wipe() {
	if a == nil {
		return
	}
	clear(a.Data)
	a.Data = nil
}
