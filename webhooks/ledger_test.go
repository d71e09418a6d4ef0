package webhooks

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryDeliveryLedgerClaimAndDuplicate(t *testing.T) {
	ledger := NewMemoryDeliveryLedger(time.Minute)
	ctx := context.Background()

	claimed, err := ledger.Claim(ctx, "evt_1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = ledger.Claim(ctx, "evt_1", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatal("expected duplicate claim to be rejected")
	}
}

func TestMemoryDeliveryLedgerClaimExpires(t *testing.T) {
	ledger := NewMemoryDeliveryLedger(time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return base }
	ctx := context.Background()

	if claimed, _ := ledger.Claim(ctx, "evt_ttl", nil, 10*time.Second); !claimed {
		t.Fatal("expected initial claim to succeed")
	}

	ledger.Now = func() time.Time { return base.Add(11 * time.Second) }
	if claimed, _ := ledger.Claim(ctx, "evt_ttl", nil, 10*time.Second); !claimed {
		t.Fatal("expected expired claim to be reclaimable")
	}
}

func TestMemoryDeliveryLedgerFailReleasesClaim(t *testing.T) {
	ledger := NewMemoryDeliveryLedger(time.Minute)
	ctx := context.Background()

	if claimed, _ := ledger.Claim(ctx, "evt_fail", nil, 0); !claimed {
		t.Fatal("expected claim")
	}
	if err := ledger.Fail(ctx, "evt_fail", fmt.Errorf("handler blew up")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed, _ := ledger.Claim(ctx, "evt_fail", nil, 0); !claimed {
		t.Fatal("expected released claim to be reclaimable")
	}
}

func TestMemoryDeliveryLedgerEnforcesCapacity(t *testing.T) {
	ledger := NewMemoryDeliveryLedgerWithLimits(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if claimed, err := ledger.Claim(ctx, fmt.Sprintf("evt_%d", i), nil, time.Duration(i+1)*time.Minute); err != nil || !claimed {
			t.Fatalf("claim %d failed: claimed=%v err=%v", i, claimed, err)
		}
	}

	// oldest-expiring claim was evicted to make room
	if claimed, _ := ledger.Claim(ctx, "evt_0", nil, time.Minute); !claimed {
		t.Fatal("expected evicted claim to be reclaimable")
	}
}

func TestMemoryDeliveryLedgerRejectsEmptyEventID(t *testing.T) {
	ledger := NewMemoryDeliveryLedger(time.Minute)
	if _, err := ledger.Claim(context.Background(), "   ", nil, 0); err == nil {
		t.Fatal("expected error for empty event id")
	}
}

func TestMemoryDeliveryLedgerPurgeExpired(t *testing.T) {
	ledger := NewMemoryDeliveryLedger(time.Minute)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return base }
	ctx := context.Background()

	_, _ = ledger.Claim(ctx, "evt_a", nil, 5*time.Second)
	_, _ = ledger.Claim(ctx, "evt_b", nil, time.Hour)

	ledger.Now = func() time.Time { return base.Add(time.Minute) }
	pruned, err := ledger.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned claim, got %d", pruned)
	}
}
