// Package signer implements the RSA/PKCS#1-v1.5 signing discipline used to
// authenticate cell owners and server-signed transactions. The algorithm is
// fixed by the wire format this codebase must interoperate with, and this
// package is the only one in the repo that uses the standard library's
// crypto/rsa.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/NebulousLabs/errors"
)

const (
	// KeyBits is the RSA modulus size used for every generated key pair.
	KeyBits = 2048
)

var (
	// ErrInvalidSignature is returned by Verify when the signature does not
	// match the data under the given public key.
	ErrInvalidSignature = errors.New("invalid signature")
)

type (
	// PrivateKey wraps an RSA private key for signing.
	PrivateKey struct {
		key *rsa.PrivateKey
	}

	// PublicKey wraps an RSA public key for verification.
	PublicKey struct {
		key *rsa.PublicKey
	}
)

// GenerateKeys creates a new 2048-bit RSA key pair.
func GenerateKeys() (PrivateKey, PublicKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return PrivateKey{}, PublicKey{}, errors.AddContext(err, "could not generate RSA key pair")
	}
	return PrivateKey{key: key}, PublicKey{key: &key.PublicKey}, nil
}

// Sign returns an RSA-PKCS#1-v1.5 signature over the SHA-256 digest of data.
func Sign(priv PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, errors.AddContext(err, "could not sign data")
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA-PKCS#1-v1.5 signature over the
// SHA-256 digest of data under pub.
func Verify(pub PublicKey, data []byte, sig []byte) bool {
	digest := sha256.Sum256(data)
	err := rsa.VerifyPKCS1v15(pub.key, crypto.SHA256, digest[:], sig)
	return err == nil
}

// String PEM-encodes the public key using PKIX/SubjectPublicKeyInfo, the
// format that round-trips unambiguously through x509.ParsePKIXPublicKey.
// This is also the string used as a cell's "owner" field on the wire.
func (pub PublicKey) String() string {
	der, err := x509.MarshalPKIXPublicKey(pub.key)
	if err != nil {
		// pub.key is always a valid *rsa.PublicKey produced by this package.
		panic("signer: could not marshal public key: " + err.Error())
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// ParsePublicKey decodes a PEM-encoded PKIX public key, such as one
// produced by PublicKey.String or stored in a cell's "owner" field.
func ParsePublicKey(s string) (PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return PublicKey{}, errors.New("not a PEM-encoded public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, errors.AddContext(err, "could not parse public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, errors.New("public key is not an RSA key")
	}
	return PublicKey{key: rsaKey}, nil
}

// MarshalPEM PEM-encodes the private key using PKCS#1.
func (priv PrivateKey) MarshalPEM() []byte {
	der := x509.MarshalPKCS1PrivateKey(priv.key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// ParsePrivateKey decodes a PEM-encoded PKCS#1 private key.
func ParsePrivateKey(b []byte) (PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return PrivateKey{}, errors.New("not a PEM-encoded private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return PrivateKey{}, errors.AddContext(err, "could not parse private key")
	}
	return PrivateKey{key: key}, nil
}

// PublicKey returns the public half of priv.
func (priv PrivateKey) PublicKey() PublicKey {
	return PublicKey{key: &priv.key.PublicKey}
}
