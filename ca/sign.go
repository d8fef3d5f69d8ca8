package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jmcleod/certhand/index"
	"github.com/jmcleod/certhand/internal/fsutil"
)

// Sign validates a PENDING request against its type's profile, assigns
// the next serial from the authority's index, and produces the signed
// certificate. Serial assignment, the external signing call and the
// durable index record happen inside one index transaction: a failed
// signing neither consumes nor skips a serial.
//
// A policy violation moves the request to REJECTED without touching the
// index. Token-backed authorities hold an exclusive signing session; a
// concurrent Sign fails with ErrTokenBusy.
func (a *Authority) Sign(ctx context.Context, req *Request) (*x509.Certificate, error) {
	if req.State != StatePending {
		return nil, fmt.Errorf("%w: %s request cannot be signed", ErrRequestState, req.State)
	}
	if req.csr == nil {
		return nil, fmt.Errorf("%w: request has no certificate request", ErrRequestState)
	}

	if err := a.lockSigning(); err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := a.validateProfile(req); err != nil {
		req.State = StateRejected
		if serr := a.saveRequest(req); serr != nil {
			return nil, serr
		}
		return nil, err
	}

	signer, err := a.ks.Signer(a.keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	dir := a.requestDir(req.Type, req.SafeName)
	now := time.Now().UTC()
	notAfter := now.AddDate(0, 0, a.cfg.ValidityDays)

	var cert *x509.Certificate
	serial, err := a.idx.Issue(func(serial int64) (index.Entry, error) {
		if err := ctx.Err(); err != nil {
			return index.Entry{}, err
		}

		template := a.leafTemplate(req, serial, now, notAfter)
		der, cerr := x509.CreateCertificate(rand.Reader, template, a.cert, req.csr.PublicKey, signer)
		if cerr != nil {
			return index.Entry{}, fmt.Errorf("signing certificate: %w", cerr)
		}
		if cert, cerr = x509.ParseCertificate(der); cerr != nil {
			return index.Entry{}, fmt.Errorf("parsing signed certificate: %w", cerr)
		}

		certPEM := encodeCertPEM(der)
		if werr := fsutil.WriteFileAtomic(filepath.Join(dir, reqCertFileName), certPEM, 0o644); werr != nil {
			return index.Entry{}, werr
		}
		archive := filepath.Join(a.dir, archiveDirName, fmt.Sprintf("%04d.pem", serial))
		if werr := fsutil.WriteFileAtomic(archive, certPEM, 0o644); werr != nil {
			return index.Entry{}, werr
		}
		sshPub, werr := sshAuthorizedKey(req.csr.PublicKey)
		if werr != nil {
			return index.Entry{}, werr
		}
		if werr := fsutil.WriteFileAtomic(filepath.Join(dir, reqSSHFileName), sshPub, 0o644); werr != nil {
			return index.Entry{}, werr
		}

		return index.Entry{
			Serial:    serial,
			Subject:   subjectString(cert.Subject),
			NotBefore: cert.NotBefore,
			NotAfter:  cert.NotAfter,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	req.Serial = serial
	req.State = StateSigned
	if err := a.saveRequest(req); err != nil {
		return nil, err
	}
	return cert, nil
}

// lockSigning acquires the signing mutex. Software authorities queue;
// token sessions are exclusive, so token-backed authorities reject
// concurrent attempts instead of blocking on the device.
func (a *Authority) lockSigning() error {
	if a.cfg.Key.Source == KeySourcePKCS11 {
		if !a.mu.TryLock() {
			return ErrTokenBusy
		}
		return nil
	}
	a.mu.Lock()
	return nil
}

// validateProfile applies the per-type policy rules. Failures here are
// policy violations: the request is rejected and the index untouched.
func (a *Authority) validateProfile(req *Request) error {
	if err := req.csr.CheckSignature(); err != nil {
		return fmt.Errorf("%w: certificate request signature invalid: %v", ErrPolicyViolation, err)
	}
	switch req.Type {
	case TypeClient:
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			return fmt.Errorf("%w: client profile requires a valid email address", ErrPolicyViolation)
		}
	case TypeServer:
		if len(req.csr.EmailAddresses) > 0 {
			return fmt.Errorf("%w: server profile does not allow email names", ErrPolicyViolation)
		}
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrPolicyViolation, req.Type)
	}
	return nil
}

// leafTemplate builds the certificate template for a request: merged
// subject, per-type key usage profile and the authority's CRL
// distribution point.
func (a *Authority) leafTemplate(req *Request, serial int64, notBefore, notAfter time.Time) *x509.Certificate {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               req.Subject.Merge(a.cfg.Subject).pkixName(req.Name),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		CRLDistributionPoints: []string{a.CRLDistributionPoint()},
	}
	switch req.Type {
	case TypeClient:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
		template.EmailAddresses = []string{req.Email}
	case TypeServer:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
		template.DNSNames = []string{req.Name}
	}
	return template
}

// CRLDistributionPoint returns the URL issued certificates carry for
// this authority's CRL.
func (a *Authority) CRLDistributionPoint() string {
	return fmt.Sprintf("http://%s/crl.pem", a.cfg.Domain)
}

// sshAuthorizedKey renders a public key in SSH authorized_keys form,
// used as trusted-CA material for SSH deployments.
func sshAuthorizedKey(pub any) ([]byte, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("converting public key for SSH: %w", err)
	}
	return ssh.MarshalAuthorizedKey(sshPub), nil
}
