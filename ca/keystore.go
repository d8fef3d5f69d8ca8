package ca

import (
	"crypto"
	"errors"
	"fmt"
	"os"
)

// KeyStore abstracts private-key operations so the authority can sign
// with software keys on disk or with hardware-token keys without the
// calling code changing. A key ID is opaque to callers; its format is
// implementation-defined (a counter for software keys, a token label
// reference for PKCS#11).
type KeyStore interface {
	// GenerateKey creates a new signing key and returns its identifier.
	// For token-backed stores the private key never leaves the device.
	GenerateKey() (keyID string, err error)

	// Signer returns a crypto.Signer for keyID, usable with
	// x509.CreateCertificate and x509.CreateRevocationList.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key as PEM, or a reference string a
	// later ImportPEM of the same store kind can resolve (token stores
	// return "PKCS11:<label>" rather than key material).
	ExportPEM(keyID string) (string, error)

	// ImportPEM loads PEM data (or a reference string) and returns the
	// resulting key ID. Used when reopening an authority directory.
	ImportPEM(pemData string) (keyID string, err error)

	// Delete removes the key from the store.
	Delete(keyID string) error
}

// ErrKeyNotExportable is returned by ExportPEM when key material cannot
// leave the backing store.
var ErrKeyNotExportable = errors.New("private key is not exportable")

// ErrKeyNotFound is returned when the referenced key ID does not exist.
var ErrKeyNotFound = errors.New("key not found")

// NewKeyStore builds the KeyStore selected by cfg. The selection is
// explicit; a pkcs11 configuration that cannot be honoured is an error,
// never a silent software fallback.
func NewKeyStore(cfg KeyConfig) (KeyStore, error) {
	switch cfg.Source {
	case "", KeySourceSoftware:
		return NewSoftwareKeyStore(), nil
	case KeySourcePKCS11:
		pin := ""
		if cfg.PINEnv != "" {
			pin = os.Getenv(cfg.PINEnv)
		}
		ks, err := NewPKCS11KeyStore(PKCS11Config{
			ModulePath: cfg.Module,
			TokenLabel: cfg.TokenLabel,
			PIN:        pin,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		return ks, nil
	default:
		return nil, fmt.Errorf("%w: unknown key source %q", ErrInputValidation, cfg.Source)
	}
}
