package escrow

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentStore, false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	store, err := OpenSQLiteStore(logger, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func TestLedgerRestoreFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")
	logger, _ := logging.NewColoredLogger(logging.ComponentEscrow, false)

	store := openTestStore(t, path)
	vault := NewMemoryVault()
	l := NewLedger(logger, vault, store, nil)

	mustSetup(t, l, 100)
	mustReserve(t, l, 60)
	err := l.BulkPayOut(escrowID, reputation,
		[]common.Address{worker1}, []token.Amount{token.FromUint64(25)},
		"", "", "round-1", false)
	if err != nil {
		t.Fatalf("bulk payout failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// A fresh ledger over the same file picks up where the old one stopped.
	store2 := openTestStore(t, path)
	defer store2.Close()
	l2 := NewLedger(logger, vault, store2, nil)
	if err := l2.Restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	assertStatus(t, l2, Partial)
	reserved, _ := l2.ReservedFunds(escrowID)
	assertAmount(t, reserved, 35, "reserved")

	// The payout id index survives restarts.
	err = l2.BulkPayOut(escrowID, reputation,
		[]common.Address{worker1}, []token.Amount{token.FromUint64(5)},
		"", "", "round-1", false)
	if err == nil {
		t.Fatal("reused payout id should be rejected after restore")
	}

	// And the event sequence continues instead of restarting at 1.
	if err := l2.Cancel(escrowID, launcherAddr); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	events, err := store2.EventsSince(0, 100)
	if err != nil {
		t.Fatalf("events read failed: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("event sequence not monotonic: %d after %d", events[i].Seq, events[i-1].Seq)
		}
	}
	last := events[len(events)-1]
	if last.Name != EventCancellationRequested {
		t.Fatalf("last event = %s, want %s", last.Name, EventCancellationRequested)
	}
}

func TestEventsSincePagination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")
	logger, _ := logging.NewColoredLogger(logging.ComponentEscrow, false)

	store := openTestStore(t, path)
	defer store.Close()
	l := NewLedger(logger, NewMemoryVault(), store, nil)
	mustSetup(t, l, 100) // emits Pending + Fund
	mustReserve(t, l, 60)

	first, err := store.EventsSince(0, 2)
	if err != nil {
		t.Fatalf("events read failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 events, got %d", len(first))
	}
	if first[0].Name != EventPending || first[1].Name != EventFund {
		t.Fatalf("unexpected event names %s, %s", first[0].Name, first[1].Name)
	}

	rest, err := store.EventsSince(first[1].Seq, 10)
	if err != nil {
		t.Fatalf("events read failed: %v", err)
	}
	if len(rest) != 1 || rest[0].Name != EventIntermediateStorage {
		t.Fatalf("unexpected tail %v", rest)
	}

	if first[0].Data["manifestUrl"] != "s3://manifests/1.json" {
		t.Fatalf("event data lost: %v", first[0].Data)
	}
}
