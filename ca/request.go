package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/certhand/internal/fsutil"
)

// RequestType selects the extension profile of a certificate request.
type RequestType string

const (
	TypeClient RequestType = "client"
	TypeServer RequestType = "server"
)

// RequestState is the lifecycle state of a certificate request.
type RequestState string

const (
	StateDraft    RequestState = "draft"
	StatePending  RequestState = "pending"
	StateSigned   RequestState = "signed"
	StateRejected RequestState = "rejected"
)

// Request file names inside a request directory.
const (
	requestFileName = "request.yaml"
	reqKeyFileName  = "key.pem"
	reqPubFileName  = "pub.pem"
	reqCSRFileName  = "csr.pem"
	reqCertFileName = "cert.pem"
	reqSSHFileName  = "id.pub"
)

// Request is one certificate request against an authority. It lives
// under <authority>/<type>/<safe-name>/ once prepared; the safe name is
// the sole collision key within a type.
type Request struct {
	ID        string       `yaml:"id"`
	Type      RequestType  `yaml:"type"`
	Name      string       `yaml:"name"`
	SafeName  string       `yaml:"safe_name"`
	Email     string       `yaml:"email,omitempty"`
	Subject   Subject      `yaml:"subject,omitempty"`
	State     RequestState `yaml:"state"`
	CreatedAt time.Time    `yaml:"created_at"`
	Serial    int64        `yaml:"serial,omitempty"`

	keyFile string // externally supplied key, not persisted
	onToken bool
	csr     *x509.CertificateRequest
}

// RequestOption configures a new request.
type RequestOption func(*Request)

// WithEmail sets the request's email address. Required for client
// requests; embedded as the certificate's email SAN.
func WithEmail(email string) RequestOption {
	return func(r *Request) { r.Email = email }
}

// WithSubject overrides authority subject-template fields for this
// request. Unset fields keep the authority default.
func WithSubject(s Subject) RequestOption {
	return func(r *Request) { r.Subject = s }
}

// WithKeyFile uses an existing PEM private key instead of generating
// one.
func WithKeyFile(path string) RequestOption {
	return func(r *Request) { r.keyFile = path }
}

// WithTokenKey generates the request's key on the authority's hardware
// token instead of in software. Only valid for token-backed authorities.
func WithTokenKey() RequestOption {
	return func(r *Request) { r.onToken = true }
}

// WithSafeName forces the stored safe name. The value is still
// normalized, so it remains a valid collision key.
func WithSafeName(name string) RequestOption {
	return func(r *Request) { r.SafeName = SafeName(name) }
}

// NewRequest creates a request in DRAFT state. The name is the identity
// the certificate is for (a hostname for server requests, typically an
// email address for client requests).
func (a *Authority) NewRequest(typ RequestType, name string, opts ...RequestOption) (*Request, error) {
	switch typ {
	case TypeClient, TypeServer:
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", ErrInputValidation, typ)
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}

	req := &Request{
		ID:        uuid.NewString(),
		Type:      typ,
		Name:      name,
		SafeName:  SafeName(name),
		State:     StateDraft,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(req)
	}
	return req, nil
}

// requestDir returns the directory a request of this type and safe name
// occupies.
func (a *Authority) requestDir(typ RequestType, safeName string) string {
	return filepath.Join(a.dir, string(typ), safeName)
}

// Prepare transitions a DRAFT request to PENDING: the safe name must be
// free within the request's type, client requests must carry an email,
// and a key must be available. On success the request directory is
// created with key, public key and CSR, and the request is persisted.
//
// A missing email is terminal for the request: build a new request with
// the email set rather than retrying this one.
func (a *Authority) Prepare(req *Request) error {
	if req.State != StateDraft {
		return fmt.Errorf("%w: %s request cannot be prepared", ErrRequestState, req.State)
	}
	if req.Type == TypeClient && req.Email == "" {
		return ErrEmailRequired
	}

	dir := a.requestDir(req.Type, req.SafeName)
	taken, err := fsutil.Exists(dir)
	if err != nil {
		return fmt.Errorf("checking request directory: %w", err)
	}
	if taken {
		return fmt.Errorf("%s/%s: %w", req.Type, req.SafeName, ErrNameTaken)
	}

	ks, keyID, err := a.requestKey(req)
	if err != nil {
		return err
	}
	signer, err := ks.Signer(keyID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	csrDER, err := a.buildCSR(req, signer)
	if err != nil {
		return err
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return fmt.Errorf("parsing certificate request: %w", err)
	}
	req.csr = csr

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating request directory: %w", err)
	}

	keyOut, err := ks.ExportPEM(keyID)
	if err != nil {
		return fmt.Errorf("exporting request key: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, reqKeyFileName), []byte(keyOut), 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, reqPubFileName), pubPEM, 0o644); err != nil {
		return err
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, reqCSRFileName), csrPEM, 0o644); err != nil {
		return err
	}

	req.State = StatePending
	return a.saveRequest(req)
}

// requestKey resolves the request's key source: an externally supplied
// PEM file, a key generated on the authority's token, or a fresh
// software key.
func (a *Authority) requestKey(req *Request) (KeyStore, string, error) {
	switch {
	case req.keyFile != "":
		data, err := os.ReadFile(req.keyFile)
		if err != nil {
			return nil, "", fmt.Errorf("%w: reading key file: %v", ErrKeyUnavailable, err)
		}
		ks := NewSoftwareKeyStore()
		keyID, err := ks.ImportPEM(string(data))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		return ks, keyID, nil
	case req.onToken:
		if a.cfg.Key.Source != KeySourcePKCS11 {
			return nil, "", fmt.Errorf("%w: authority has no hardware token", ErrKeyUnavailable)
		}
		keyID, err := a.ks.GenerateKey()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		return a.ks, keyID, nil
	default:
		ks := NewSoftwareKeyStore()
		keyID, err := ks.GenerateKey()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		return ks, keyID, nil
	}
}

func (a *Authority) buildCSR(req *Request, signer crypto.Signer) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject: req.Subject.Merge(a.cfg.Subject).pkixName(req.Name),
	}
	switch req.Type {
	case TypeClient:
		template.EmailAddresses = []string{req.Email}
	case TypeServer:
		template.DNSNames = []string{req.Name}
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, signer)
	if err != nil {
		return nil, fmt.Errorf("creating certificate request: %w", err)
	}
	return der, nil
}

// saveRequest persists the request metadata into its directory.
func (a *Authority) saveRequest(req *Request) error {
	data, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	dir := a.requestDir(req.Type, req.SafeName)
	return fsutil.WriteFileAtomic(filepath.Join(dir, requestFileName), data, 0o644)
}

// LoadRequest loads a previously prepared request by type and name. The
// name is normalized with SafeName before lookup.
func (a *Authority) LoadRequest(typ RequestType, name string) (*Request, error) {
	dir := a.requestDir(typ, SafeName(name))
	data, err := os.ReadFile(filepath.Join(dir, requestFileName))
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	if req.State == StatePending {
		csrPEM, err := os.ReadFile(filepath.Join(dir, reqCSRFileName))
		if err != nil {
			return nil, fmt.Errorf("reading certificate request: %w", err)
		}
		block, _ := pem.Decode(csrPEM)
		if block == nil || block.Type != "CERTIFICATE REQUEST" {
			return nil, fmt.Errorf("certificate request: %w", ErrInvalidPEM)
		}
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate request: %w", err)
		}
		req.csr = csr
	}
	return &req, nil
}
