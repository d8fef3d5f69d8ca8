package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"path/filepath"
	"time"

	"github.com/jmcleod/certhand/internal/fsutil"
)

// crlValidity is the window between ThisUpdate and NextUpdate on a
// generated CRL.
const crlValidity = 7 * 24 * time.Hour

// Revoke marks the entry for serial revoked as of now. Revoking an
// unknown serial fails with index.ErrNotFound; revoking twice fails with
// index.ErrAlreadyRevoked and preserves the original revocation time.
func (a *Authority) Revoke(serial int64) error {
	return a.idx.Revoke(serial, time.Now().UTC())
}

// BuildCRL signs a CRL covering the index's current revoked entries,
// consumes the next CRL number, and places it at crl/ca.crl. Two builds
// over the same revoked set produce the same list under two distinct,
// increasing CRL numbers, so only build when publishing.
func (a *Authority) BuildCRL(ctx context.Context) ([]byte, error) {
	if err := a.lockSigning(); err != nil {
		return nil, err
	}
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signer, err := a.ks.Signer(a.keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	revoked, err := a.idx.Revoked()
	if err != nil {
		return nil, err
	}

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, r := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(r.Serial),
			RevocationTime: r.RevokedAt,
		})
	}

	var crlPEM []byte
	_, err = a.idx.IssueCRL(func(number int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now().UTC()
		template := &x509.RevocationList{
			Number:                    big.NewInt(number),
			ThisUpdate:                now,
			NextUpdate:                now.Add(crlValidity),
			RevokedCertificateEntries: entries,
		}
		der, cerr := x509.CreateRevocationList(rand.Reader, template, a.cert, signer)
		if cerr != nil {
			return fmt.Errorf("creating CRL: %w", cerr)
		}
		crlPEM = pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
		return fsutil.WriteFileAtomic(filepath.Join(a.dir, crlDirName, crlFileName), crlPEM, 0o644)
	})
	if err != nil {
		return nil, err
	}
	return crlPEM, nil
}

// CRLPath returns the location of the most recently built CRL.
func (a *Authority) CRLPath() string {
	return filepath.Join(a.dir, crlDirName, crlFileName)
}
