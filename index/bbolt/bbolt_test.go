package bbolt

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmcleod/certhand/index"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func entryFor(serial int64) index.Entry {
	now := time.Now().UTC()
	return index.Entry{
		Serial:    serial,
		Subject:   "CN=test",
		NotBefore: now,
		NotAfter:  now.AddDate(1, 0, 0),
	}
}

func TestCountersStartAtOne(t *testing.T) {
	s, _ := newTestStore(t)

	serial, err := s.NextSerial()
	if err != nil {
		t.Fatalf("NextSerial failed: %v", err)
	}
	if serial != 1 {
		t.Errorf("expected next serial 1, got %d", serial)
	}

	number, err := s.NextCRLNumber()
	if err != nil {
		t.Fatalf("NextCRLNumber failed: %v", err)
	}
	if number != 1 {
		t.Errorf("expected next CRL number 1, got %d", number)
	}
}

func TestIssueAndReopen(t *testing.T) {
	s, path := newTestStore(t)

	for want := int64(1); want <= 3; want++ {
		serial, err := s.Issue(func(serial int64) (index.Entry, error) {
			return entryFor(serial), nil
		})
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if serial != want {
			t.Errorf("expected serial %d, got %d", want, serial)
		}
	}
	if err := s.Revoke(2, time.Now().UTC()); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Counters and entries survive a reopen.
	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	next, _ := reopened.NextSerial()
	if next != 4 {
		t.Errorf("expected next serial 4 after reopen, got %d", next)
	}
	entry, err := reopened.Get(2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Status != index.StatusRevoked {
		t.Errorf("expected revoked status after reopen, got %s", entry.Status)
	}
	all, err := reopened.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries after reopen, got %d", len(all))
	}
}

func TestIssueRollback(t *testing.T) {
	s, _ := newTestStore(t)
	fail := errors.New("signing failed")

	_, err := s.Issue(func(int64) (index.Entry, error) {
		return index.Entry{}, fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("expected signing error, got %v", err)
	}

	next, _ := s.NextSerial()
	if next != 1 {
		t.Errorf("expected next serial 1 after rollback, got %d", next)
	}
	if _, err := s.Get(1); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("expected no entry after rollback, got %v", err)
	}
}

func TestRevokeErrors(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Revoke(9, time.Now()); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	serial, err := s.Issue(func(serial int64) (index.Entry, error) {
		return entryFor(serial), nil
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	first := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := s.Revoke(serial, first); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := s.Revoke(serial, first.Add(time.Hour)); !errors.Is(err, index.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}

	entry, _ := s.Get(serial)
	if !entry.RevokedAt.Equal(first) {
		t.Errorf("revocation time changed: got %v", entry.RevokedAt)
	}
}

func TestIssueCRLCounter(t *testing.T) {
	s, _ := newTestStore(t)

	n1, err := s.IssueCRL(func(int64) error { return nil })
	if err != nil {
		t.Fatalf("IssueCRL failed: %v", err)
	}
	n2, err := s.IssueCRL(func(int64) error { return nil })
	if err != nil {
		t.Fatalf("IssueCRL failed: %v", err)
	}
	if n1 != 1 || n2 != 2 {
		t.Errorf("expected CRL numbers 1, 2; got %d, %d", n1, n2)
	}

	fail := errors.New("no")
	if _, err := s.IssueCRL(func(int64) error { return fail }); !errors.Is(err, fail) {
		t.Fatalf("expected build error, got %v", err)
	}
	next, _ := s.NextCRLNumber()
	if next != 3 {
		t.Errorf("expected next CRL number 3, got %d", next)
	}
}
