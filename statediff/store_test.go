package statediff

import (
	"testing"
	"time"
)

func TestStoreEntriesOrderedByInsertion(t *testing.T) {
	s := NewStore(0)

	first := s.Insert("account", nil, map[string]*string{"balance": strp("100")})
	second := s.Insert("account", nil, map[string]*string{"balance": strp("200")})

	entries := s.Entries("account")
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != first || entries[1].ID != second {
		t.Fatalf("entries out of insertion order: got [%s %s], want [%s %s]",
			entries[0].ID, entries[1].ID, first, second)
	}
	// Oldest-first iteration is what makes "most recently inserted matching
	// entry wins" a plain last-write loop for the row rewriter.
	if *entries[1].Assignments["balance"] != "200" {
		t.Fatalf("last entry balance = %q, want 200", *entries[1].Assignments["balance"])
	}
}

func TestStoreTablesAreIndependent(t *testing.T) {
	s := NewStore(0)
	s.Insert("account", nil, map[string]*string{"balance": strp("1")})

	if got := s.Entries("orders"); got != nil {
		t.Fatalf("Entries(orders) = %v, want nil", got)
	}
	if got := s.Entries("account"); len(got) != 1 {
		t.Fatalf("len(Entries(account)) = %d, want 1", len(got))
	}
}

func TestStoreTTLEviction(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	s.Insert("account", nil, map[string]*string{"balance": strp("1")})

	if got := s.Entries("account"); len(got) != 1 {
		t.Fatalf("len(entries) before expiry = %d, want 1", len(got))
	}

	time.Sleep(20 * time.Millisecond)

	if got := s.Entries("account"); len(got) != 0 {
		t.Fatalf("len(entries) after expiry = %d, want 0", len(got))
	}
}

func TestStoreZeroTTLNeverExpires(t *testing.T) {
	s := NewStore(0)
	s.Insert("account", nil, map[string]*string{"balance": strp("1")})

	time.Sleep(15 * time.Millisecond)

	if got := s.Entries("account"); len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (zero TTL must never evict)", len(got))
	}
}
