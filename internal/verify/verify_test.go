package verify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func signedArtifact(t *testing.T, data []byte) (*Artifact, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sum := sha256.Sum256(data)
	return &Artifact{
		URL:       "https://example.com/app.tar.gz",
		Data:      append([]byte(nil), data...),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, data)),
		Length:    int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
	}, pub, priv
}

func TestVerifyTrusted(t *testing.T) {
	a, pub, _ := signedArtifact(t, []byte("release payload"))

	verdict, err := Verify(a, pub)
	if verdict != Trusted || err != nil {
		t.Fatalf("Verify() = %v, %v; want trusted", verdict, err)
	}

	// Unclaimed length and digest are fine; the signature is what matters.
	a.Length, a.SHA256 = 0, ""
	if verdict, err := Verify(a, pub); verdict != Trusted || err != nil {
		t.Errorf("Verify() without claims = %v, %v", verdict, err)
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	otherPub, _, _ := ed25519.GenerateKey(nil)

	tests := []struct {
		name    string
		mutate  func(a *Artifact, key *ed25519.PublicKey)
		wantErr error
	}{
		{
			name:    "missing key",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { *key = nil },
			wantErr: ErrNoPublicKey,
		},
		{
			name:    "short key",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { *key = (*key)[:10] },
			wantErr: ErrMalformedKey,
		},
		{
			name:    "wrong key",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { *key = otherPub },
			wantErr: ErrSignatureMismatch,
		},
		{
			name:    "missing signature",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.Signature = "" },
			wantErr: ErrMissingSignature,
		},
		{
			name:    "signature not base64",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.Signature = "not*base64" },
			wantErr: ErrMalformedSignature,
		},
		{
			name: "signature wrong size",
			mutate: func(a *Artifact, key *ed25519.PublicKey) {
				a.Signature = base64.StdEncoding.EncodeToString([]byte("tiny"))
			},
			wantErr: ErrMalformedSignature,
		},
		{
			name: "corrupted payload",
			mutate: func(a *Artifact, key *ed25519.PublicKey) {
				a.Data[0] ^= 0x01
				a.SHA256 = ""
			},
			wantErr: ErrSignatureMismatch,
		},
		{
			name:    "corrupted payload caught by digest",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.Data[0] ^= 0x01 },
			wantErr: ErrDigestMismatch,
		},
		{
			name:    "truncated payload",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.Data = a.Data[:3] },
			wantErr: ErrLengthMismatch,
		},
		{
			name:    "malformed digest",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.SHA256 = "zz" },
			wantErr: ErrDigestMismatch,
		},
		{
			name:    "empty payload",
			mutate:  func(a *Artifact, key *ed25519.PublicKey) { a.Data = nil },
			wantErr: ErrEmptyArtifact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, pub, _ := signedArtifact(t, []byte("release payload"))
			key := pub
			tt.mutate(a, &key)

			verdict, err := Verify(a, key)
			if verdict != Untrusted {
				t.Fatalf("Verify() = %v, want untrusted", verdict)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyNilArtifact(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	if verdict, err := Verify(nil, pub); verdict != Untrusted || !errors.Is(err, ErrNoArtifact) {
		t.Errorf("Verify(nil) = %v, %v", verdict, err)
	}
}

func TestWipe(t *testing.T) {
	data := []byte("secret payload")
	a := &Artifact{Data: data}
	a.Wipe()

	if a.Data != nil {
		t.Error("Data should be nil after Wipe")
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}

	var nilArtifact *Artifact
	nilArtifact.Wipe()
}

func TestVerdictString(t *testing.T) {
	if Trusted.String() != "trusted" || Untrusted.String() != "untrusted" {
		t.Error("unexpected Verdict strings")
	}
}
