package verify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Verdict is the outcome of verification.
type Verdict int

const (
	Untrusted Verdict = iota
	Trusted
)

func (v Verdict) String() string {
	if v == Trusted {
		return "trusted"
	}
	return "untrusted"
}

// Reasons an artifact is untrusted.
var (
	ErrNoPublicKey        = errors.New("no trust key configured")
	ErrMalformedKey       = errors.New("malformed trust key")
	ErrNoArtifact         = errors.New("no artifact")
	ErrEmptyArtifact      = errors.New("artifact is empty")
	ErrMissingSignature   = errors.New("artifact has no signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrLengthMismatch     = errors.New("artifact length does not match feed")
	ErrDigestMismatch     = errors.New("artifact digest does not match feed")
	ErrSignatureMismatch  = errors.New("signature does not match artifact")
)

// Verify checks a's signature against key. It fails closed: anything other
// than a well-formed key, a well-formed signature and an intact payload that
// the signature covers yields Untrusted with an error naming the reason.
// Trusted is always returned with a nil error.
func Verify(a *Artifact, key ed25519.PublicKey) (Verdict, error) {
	if len(key) == 0 {
		return Untrusted, ErrNoPublicKey
	}
	if len(key) != ed25519.PublicKeySize {
		return Untrusted, fmt.Errorf("%w: %d bytes", ErrMalformedKey, len(key))
	}
	if a == nil {
		return Untrusted, ErrNoArtifact
	}
	if len(a.Data) == 0 {
		return Untrusted, ErrEmptyArtifact
	}

	encoded := strings.TrimSpace(a.Signature)
	if encoded == "" {
		return Untrusted, ErrMissingSignature
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Untrusted, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return Untrusted, fmt.Errorf("%w: %d bytes", ErrMalformedSignature, len(sig))
	}

	if a.Length > 0 && int64(len(a.Data)) != a.Length {
		return Untrusted, fmt.Errorf("%w: got %d, claimed %d", ErrLengthMismatch, len(a.Data), a.Length)
	}

	if a.SHA256 != "" {
		want, err := hex.DecodeString(strings.TrimSpace(a.SHA256))
		if err != nil {
			return Untrusted, fmt.Errorf("%w: malformed digest", ErrDigestMismatch)
		}
		got := sha256.Sum256(a.Data)
		if subtle.ConstantTimeCompare(got[:], want) != 1 {
			return Untrusted, ErrDigestMismatch
		}
	}

	if !ed25519.Verify(key, a.Data, sig) {
		return Untrusted, ErrSignatureMismatch
	}
	return Trusted, nil
}
