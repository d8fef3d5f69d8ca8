package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
)

// SoftwareKeyStore holds ECDSA P-256 private keys in memguard enclaves,
// so key material is encrypted at rest in process memory. The key is
// materialized only for the duration of a single Sign or export and the
// plaintext buffer is destroyed afterwards.
//
// Keys in this store are ephemeral; the authority persists them on disk
// (owner-read-only) via ExportPEM and reloads them with ImportPEM.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*memguard.Enclave // SEC1 DER
	rand io.Reader
	seq  int
}

var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*memguard.Enclave),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) nextID() string {
	s.seq++
	return fmt.Sprintf("sw-%d", s.seq)
}

// GenerateKey creates a new ECDSA P-256 key pair and seals it.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.keys[id] = memguard.NewEnclave(der)
	return id, nil
}

// Signer returns a crypto.Signer that opens the enclave per operation.
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}

	// The public half is not secret; derive it once so Public() does not
	// need the enclave.
	priv, buf, err := openKey(enclave)
	if err != nil {
		return nil, err
	}
	pub := priv.PublicKey
	buf.Destroy()

	return &enclaveSigner{enclave: enclave, pub: pub}, nil
}

// ExportPEM returns the private key as SEC1 "EC PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) (string, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: buf.Bytes()})), nil
}

// ImportPEM parses an EC private key PEM block and seals it.
func (s *SoftwareKeyStore) ImportPEM(pemData string) (string, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}

	var der []byte
	switch block.Type {
	case "EC PRIVATE KEY":
		if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		der = block.Bytes
	case "PRIVATE KEY":
		// PKCS8 wrapper; re-encode as SEC1 for uniform storage.
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
		der, err = x509.MarshalECPrivateKey(priv)
		if err != nil {
			return "", fmt.Errorf("encoding private key: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.keys[id] = memguard.NewEnclave(der)
	return id, nil
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}

func openKey(enclave *memguard.Enclave) (*ecdsa.PrivateKey, *memguard.LockedBuffer, error) {
	buf, err := enclave.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening key enclave: %w", err)
	}
	priv, err := x509.ParseECPrivateKey(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("parsing private key: %w", err)
	}
	return priv, buf, nil
}

// enclaveSigner materializes the private key per signature and wipes it
// before returning.
type enclaveSigner struct {
	enclave *memguard.Enclave
	pub     ecdsa.PublicKey
}

var _ crypto.Signer = (*enclaveSigner)(nil)

func (e *enclaveSigner) Public() crypto.PublicKey {
	return &e.pub
}

func (e *enclaveSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	priv, buf, err := openKey(e.enclave)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return priv.Sign(rand, digest, opts)
}
