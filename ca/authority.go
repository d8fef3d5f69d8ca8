// Package ca implements a file-backed certificate authority: one
// directory per authority holding its configuration, key material,
// issuance database, archive of issued certificates and CRL area.
// Requests move DRAFT -> PENDING -> SIGNED or REJECTED; serial numbers
// come from the authority's index and are never reused.
package ca

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/certhand/index"
	indexbbolt "github.com/jmcleod/certhand/index/bbolt"
	"github.com/jmcleod/certhand/internal/fsutil"
)

// Directory layout inside an authority.
const (
	certFileName  = "ca.crt"
	indexFileName = "index.db"
	crlFileName   = "ca.crl"

	privateDirName = "private"
	archiveDirName = "archive"
	crlDirName     = "crl"

	keyFileName = "ca.key"
)

// caValidityYears is the validity period of a self-signed root
// certificate.
const caValidityYears = 10

// Authority is one opened certificate authority directory.
//
// The signing mutex serializes all operations that touch the signing
// key; for token-backed authorities the session is exclusive and a
// concurrent attempt fails with ErrTokenBusy instead of queueing.
type Authority struct {
	dir   string
	cfg   Config
	cert  *x509.Certificate
	cpem  []byte
	ks    KeyStore
	keyID string
	idx   index.Store

	mu sync.Mutex
}

// Dir returns the authority's directory root.
func (a *Authority) Dir() string { return a.dir }

// Config returns the authority's configuration.
func (a *Authority) Config() Config { return a.cfg }

// Certificate returns the authority's own certificate.
func (a *Authority) Certificate() *x509.Certificate { return a.cert }

// CertificatePEM returns the authority's certificate as PEM bytes.
func (a *Authority) CertificatePEM() []byte { return append([]byte(nil), a.cpem...) }

// Index returns the authority's issuance database.
func (a *Authority) Index() index.Store { return a.idx }

// Close releases the issuance database and, for token-backed
// authorities, the token session.
func (a *Authority) Close() error {
	err := a.idx.Close()
	if c, ok := a.ks.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Init creates a new authority at path. The location must not exist (or
// be an empty directory): an authority's identity and serial history are
// never merged with another's. The key pair is created through ks; pass
// nil to use the keystore selected by cfg.Key.
func Init(path string, cfg Config, ks KeyStore) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	empty, err := fsutil.EmptyOrMissing(path)
	if err != nil {
		return nil, fmt.Errorf("checking authority location: %w", err)
	}
	if !empty {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}

	if ks == nil {
		if ks, err = NewKeyStore(cfg.Key); err != nil {
			return nil, err
		}
	}

	// Key and certificate come first so a keystore failure leaves no
	// half-built directory behind.
	keyID, err := ks.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	// The authority's own certificate carries a random serial; index
	// serials are reserved for certificates this authority issues.
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               cfg.Subject.pkixName(cfg.Label),
		NotBefore:             now,
		NotAfter:              now.AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("creating authority certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing authority certificate: %w", err)
	}

	if err := makeSkeleton(path); err != nil {
		return nil, err
	}
	idx, err := indexbbolt.Open(filepath.Join(path, indexFileName), nil)
	if err != nil {
		return nil, err
	}

	a := &Authority{
		dir:   path,
		cfg:   cfg,
		cert:  cert,
		cpem:  encodeCertPEM(der),
		ks:    ks,
		keyID: keyID,
		idx:   idx,
	}
	if err := a.persist(); err != nil {
		idx.Close()
		return nil, err
	}
	return a, nil
}

// Import creates an authority at path from an externally issued
// certificate (typically an intermediate signed by a parent authority)
// and its matching key. Subject template fields left empty in cfg are
// read back from the certificate.
func Import(path string, cfg Config, certPEM []byte, keyPEM string, ks KeyStore) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	empty, err := fsutil.EmptyOrMissing(path)
	if err != nil {
		return nil, fmt.Errorf("checking authority location: %w", err)
	}
	if !empty {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("authority certificate: %w", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing authority certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("%w: certificate is not a CA certificate", ErrInputValidation)
	}
	cfg.Subject = cfg.Subject.Merge(subjectFromName(cert.Subject))

	if ks == nil {
		if ks, err = NewKeyStore(cfg.Key); err != nil {
			return nil, err
		}
	}
	keyID, err := ks.ImportPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if !publicKeysMatch(cert.PublicKey, signer.Public()) {
		return nil, fmt.Errorf("%w: key does not match the certificate", ErrKeyUnavailable)
	}

	if err := makeSkeleton(path); err != nil {
		return nil, err
	}
	idx, err := indexbbolt.Open(filepath.Join(path, indexFileName), nil)
	if err != nil {
		return nil, err
	}

	a := &Authority{
		dir:   path,
		cfg:   cfg,
		cert:  cert,
		cpem:  encodeCertPEM(block.Bytes),
		ks:    ks,
		keyID: keyID,
		idx:   idx,
	}
	if err := a.persist(); err != nil {
		idx.Close()
		return nil, err
	}
	return a, nil
}

// Open loads an existing authority directory. Pass a nil KeyStore to use
// the keystore selected by the stored configuration.
func Open(path string, ks KeyStore) (*Authority, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(filepath.Join(path, certFileName))
	if err != nil {
		return nil, fmt.Errorf("reading authority certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("authority certificate: %w", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing authority certificate: %w", err)
	}

	if ks == nil {
		if ks, err = NewKeyStore(cfg.Key); err != nil {
			return nil, err
		}
	}
	keyData, err := os.ReadFile(filepath.Join(path, privateDirName, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading authority key: %v", ErrKeyUnavailable, err)
	}
	keyID, err := ks.ImportPEM(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	idx, err := indexbbolt.Open(filepath.Join(path, indexFileName), nil)
	if err != nil {
		return nil, err
	}

	return &Authority{
		dir:   path,
		cfg:   cfg,
		cert:  cert,
		cpem:  encodeCertPEM(block.Bytes),
		ks:    ks,
		keyID: keyID,
		idx:   idx,
	}, nil
}

// persist writes the authority's configuration, certificate and key
// reference into the directory skeleton.
func (a *Authority) persist() error {
	if err := a.cfg.save(a.dir); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(a.dir, certFileName), a.cpem, 0o644); err != nil {
		return err
	}
	keyOut, err := a.ks.ExportPEM(a.keyID)
	if err != nil {
		return fmt.Errorf("exporting authority key: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(a.dir, privateDirName, keyFileName), []byte(keyOut), 0o600)
}

func makeSkeleton(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating authority directory: %w", err)
	}
	for _, sub := range []string{archiveDirName, crlDirName, string(TypeClient), string(TypeServer)} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(path, privateDirName), 0o700); err != nil {
		return fmt.Errorf("creating private directory: %w", err)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}
	return serial, nil
}

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// pkixName builds a distinguished name from the template plus a common
// name. Empty fields are omitted.
func (s Subject) pkixName(cn string) pkix.Name {
	name := pkix.Name{CommonName: cn}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.Province != "" {
		name.Province = []string{s.Province}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	return name
}

func subjectFromName(name pkix.Name) Subject {
	first := func(v []string) string {
		if len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return Subject{
		Country:            first(name.Country),
		Province:           first(name.Province),
		Locality:           first(name.Locality),
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
	}
}

// subjectString formats a pkix.Name as a readable DN string for index
// entries and API output.
func subjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	return strings.Join(parts, ", ")
}

func publicKeysMatch(a, b any) bool {
	ka, ok := a.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	kb, ok := b.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	return ka.Equal(kb)
}
