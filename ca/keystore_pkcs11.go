//go:build pkcs11

package ca

import (
	"crypto"
	"crypto/elliptic"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesGroup/crypto11"
	"github.com/google/uuid"
)

// PKCS11Prefix marks key references that resolve inside a hardware
// token. The full reference is "PKCS11:<label>"; only the reference is
// ever written to the authority's key area, never key material.
const PKCS11Prefix = "PKCS11:"

// PKCS11Config holds the connection parameters for a PKCS#11 token.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 shared library
	// (e.g. /usr/lib/softhsm/libsofthsm2.so).
	ModulePath string

	// TokenLabel identifies the token/slot by label.
	TokenLabel string

	// PIN is the user PIN for the token.
	PIN string

	// SlotNumber optionally overrides TokenLabel for slot selection.
	SlotNumber *int
}

// PKCS11KeyStore keeps ECDSA P-256 keys inside a PKCS#11 token. Keys are
// addressed by label; the store hands out "pkcs11-<label>" key IDs.
type PKCS11KeyStore struct {
	ctx *crypto11.Context
	mu  sync.Mutex
}

var _ KeyStore = (*PKCS11KeyStore)(nil)

// NewPKCS11KeyStore connects to the configured token. The caller must
// Close the store when finished.
func NewPKCS11KeyStore(cfg PKCS11Config) (*PKCS11KeyStore, error) {
	config := &crypto11.Config{
		Path:       cfg.ModulePath,
		TokenLabel: cfg.TokenLabel,
		Pin:        cfg.PIN,
	}
	if cfg.SlotNumber != nil {
		config.SlotNumber = cfg.SlotNumber
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}
	return &PKCS11KeyStore{ctx: ctx}, nil
}

// Close releases the PKCS#11 context.
func (p *PKCS11KeyStore) Close() error {
	if p.ctx != nil {
		return p.ctx.Close()
	}
	return nil
}

// GenerateKey creates a new ECDSA P-256 key pair on the token under a
// fresh label.
func (p *PKCS11KeyStore) GenerateKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	label := "certhand-" + uuid.NewString()
	labelBytes := []byte(label)

	if _, err := p.ctx.GenerateECDSAKeyPairWithLabel(labelBytes, labelBytes, elliptic.P256()); err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key on token: %w", err)
	}
	return "pkcs11-" + label, nil
}

// Signer returns a crypto.Signer that delegates signing to the token.
func (p *PKCS11KeyStore) Signer(keyID string) (crypto.Signer, error) {
	label := strings.TrimPrefix(keyID, "pkcs11-")

	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %s (token: %v)", ErrKeyNotFound, keyID, err)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return signer, nil
}

// ExportPEM returns the "PKCS11:<label>" reference for the key; the
// private key itself never leaves the token.
func (p *PKCS11KeyStore) ExportPEM(keyID string) (string, error) {
	label := strings.TrimPrefix(keyID, "pkcs11-")

	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return "", fmt.Errorf("verifying key on token: %w", err)
	}
	if signer == nil {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return PKCS11Prefix + label, nil
}

// ImportPEM resolves a "PKCS11:<label>" reference to a key ID. Real PEM
// key material cannot be imported into a token store.
func (p *PKCS11KeyStore) ImportPEM(pemData string) (string, error) {
	if !strings.HasPrefix(pemData, PKCS11Prefix) {
		return "", fmt.Errorf("%w: authority key is not a PKCS#11 reference; it was created with a software keystore", ErrKeyUnavailable)
	}
	label := strings.TrimPrefix(pemData, PKCS11Prefix)

	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return "", fmt.Errorf("finding key on token: %w", err)
	}
	if signer == nil {
		return "", fmt.Errorf("%w: PKCS#11 label %q", ErrKeyNotFound, label)
	}
	return "pkcs11-" + label, nil
}

// Delete destroys the key pair on the token.
func (p *PKCS11KeyStore) Delete(keyID string) error {
	label := strings.TrimPrefix(keyID, "pkcs11-")

	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return fmt.Errorf("finding key for deletion: %w", err)
	}
	if signer == nil {
		return nil
	}
	if d, ok := signer.(interface{ Delete() error }); ok {
		return d.Delete()
	}
	return nil
}
