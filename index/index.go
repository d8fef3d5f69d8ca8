// Package index defines the issuance database kept by every certificate
// authority directory: the next-serial counters and the flat record of
// issued certificates. Backends live in the bbolt and memory subpackages.
package index

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the referenced serial has no entry.
	ErrNotFound = errors.New("serial not found")

	// ErrAlreadyRevoked is returned when revoking an entry that is
	// already revoked. The original revocation time is preserved.
	ErrAlreadyRevoked = errors.New("certificate is already revoked")

	// ErrSerialMismatch is returned by Issue when the callback produced
	// an entry carrying a serial other than the one it was handed.
	ErrSerialMismatch = errors.New("entry serial does not match assigned serial")
)

// Status is the lifecycle state of an issued certificate.
type Status string

const (
	StatusValid   Status = "valid"
	StatusRevoked Status = "revoked"
)

// Entry is one issued-certificate record. Once written an entry is
// immutable apart from the one-way valid -> revoked transition.
type Entry struct {
	Serial    int64     `json:"serial"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Status    Status    `json:"status"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
}

// Store is the issuance database for a single authority.
//
// Serial assignment is transactional: Issue hands the callback the next
// certificate serial and only advances the counter once the callback has
// succeeded and the entry is durably recorded. If the callback fails the
// serial is neither consumed nor skipped. IssueCRL does the same for the
// CRL number counter. Both counters start at 1 and never repeat a value.
type Store interface {
	// NextSerial returns the serial the next successful Issue will assign,
	// without consuming it.
	NextSerial() (int64, error)

	// NextCRLNumber returns the number the next successful IssueCRL will
	// assign, without consuming it.
	NextCRLNumber() (int64, error)

	// Issue runs fn with the next certificate serial inside the store's
	// write transaction. fn typically performs the external signing call;
	// the entry it returns is recorded with status valid and the counter
	// is advanced. On error nothing is written.
	Issue(fn func(serial int64) (Entry, error)) (int64, error)

	// IssueCRL runs fn with the next CRL number inside the store's write
	// transaction and advances the counter when fn succeeds.
	IssueCRL(fn func(number int64) error) (int64, error)

	// Revoke transitions the entry for serial from valid to revoked,
	// stamping at as the revocation time.
	Revoke(serial int64, at time.Time) error

	// Get returns the entry for serial.
	Get(serial int64) (Entry, error)

	// List returns all entries in serial order.
	List() ([]Entry, error)

	// Revoked returns all revoked entries in serial order.
	Revoked() ([]Entry, error)

	Close() error
}
