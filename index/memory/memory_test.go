package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/jmcleod/certhand/index"
)

func entryFor(serial int64) index.Entry {
	now := time.Now().UTC()
	return index.Entry{
		Serial:    serial,
		Subject:   "CN=test",
		NotBefore: now,
		NotAfter:  now.AddDate(1, 0, 0),
	}
}

func TestIssueSequence(t *testing.T) {
	s := NewStore()

	for want := int64(1); want <= 5; want++ {
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

	next, err := s.NextSerial()
	if err != nil {
		t.Fatalf("NextSerial failed: %v", err)
	}
	if next != 6 {
		t.Errorf("expected next serial 6, got %d", next)
	}
}

func TestIssueRollback(t *testing.T) {
	s := NewStore()
	fail := errors.New("signing failed")

	_, err := s.Issue(func(serial int64) (index.Entry, error) {
		return index.Entry{}, fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("expected signing error, got %v", err)
	}

	// The serial must be neither consumed nor skipped.
	next, _ := s.NextSerial()
	if next != 1 {
		t.Errorf("expected next serial 1 after rollback, got %d", next)
	}
	if _, err := s.Get(1); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("expected no entry after rollback, got %v", err)
	}
}

func TestIssueSerialMismatch(t *testing.T) {
	s := NewStore()
	_, err := s.Issue(func(serial int64) (index.Entry, error) {
		return entryFor(serial + 1), nil
	})
	if !errors.Is(err, index.ErrSerialMismatch) {
		t.Fatalf("expected ErrSerialMismatch, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	s := NewStore()
	serial, err := s.Issue(func(serial int64) (index.Entry, error) {
		return entryFor(serial), nil
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Revoke(serial, first); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	entry, err := s.Get(serial)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Status != index.StatusRevoked {
		t.Errorf("expected status revoked, got %s", entry.Status)
	}
	if !entry.RevokedAt.Equal(first) {
		t.Errorf("expected revocation time %v, got %v", first, entry.RevokedAt)
	}

	// Second revocation fails and keeps the original timestamp.
	err = s.Revoke(serial, first.Add(time.Hour))
	if !errors.Is(err, index.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
	entry, _ = s.Get(serial)
	if !entry.RevokedAt.Equal(first) {
		t.Errorf("revocation time changed: got %v", entry.RevokedAt)
	}
}

func TestRevokeNotFound(t *testing.T) {
	s := NewStore()
	if err := s.Revoke(42, time.Now()); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueCRL(t *testing.T) {
	s := NewStore()

	var got []int64
	for i := 0; i < 3; i++ {
		number, err := s.IssueCRL(func(number int64) error { return nil })
		if err != nil {
			t.Fatalf("IssueCRL failed: %v", err)
		}
		got = append(got, number)
	}
	for i, number := range got {
		if number != int64(i+1) {
			t.Errorf("expected CRL number %d, got %d", i+1, number)
		}
	}

	// A failing build does not consume a number.
	fail := errors.New("no")
	if _, err := s.IssueCRL(func(int64) error { return fail }); !errors.Is(err, fail) {
		t.Fatalf("expected build error, got %v", err)
	}
	next, _ := s.NextCRLNumber()
	if next != 4 {
		t.Errorf("expected next CRL number 4, got %d", next)
	}
}

func TestListAndRevoked(t *testing.T) {
	s := NewStore()
	for i := 0; i < 4; i++ {
		if _, err := s.Issue(func(serial int64) (index.Entry, error) {
			return entryFor(serial), nil
		}); err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
	}
	s.Revoke(2, time.Now().UTC())
	s.Revoke(4, time.Now().UTC())

	all, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	for i, e := range all {
		if e.Serial != int64(i+1) {
			t.Errorf("entries out of order: position %d has serial %d", i, e.Serial)
		}
	}

	revoked, err := s.Revoked()
	if err != nil {
		t.Fatalf("Revoked failed: %v", err)
	}
	if len(revoked) != 2 || revoked[0].Serial != 2 || revoked[1].Serial != 4 {
		t.Errorf("unexpected revoked set: %+v", revoked)
	}
}
