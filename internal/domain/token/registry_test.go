package token

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewRegistry_RequiresActiveKey(t *testing.T) {
	_, err := NewRegistry(nil)
	if !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("NewRegistry(nil) error = %v, want ErrNoActiveKey", err)
	}

	retired := testKey(t)
	retired.Status = KeyRetiring
	_, err = NewRegistry([]SigningKey{retired})
	if !errors.Is(err, ErrNoActiveKey) {
		t.Fatalf("NewRegistry(retiring only) error = %v, want ErrNoActiveKey", err)
	}
}

func TestNewRegistry_RejectsTwoActiveKeys(t *testing.T) {
	_, err := NewRegistry([]SigningKey{testKey(t), testKey(t)})
	if err == nil {
		t.Fatal("NewRegistry() with two active keys should return error")
	}
}

func TestRegistry_RotateKeepsOldKeyVerifiable(t *testing.T) {
	codec := NewCodec(0)
	oldKey := testKey(t)

	reg, err := NewRegistry([]SigningKey{oldKey})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	raw, err := codec.Issue(testClaims(KindRefresh, time.Hour), oldKey)
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}

	newKey := testKey(t)
	if err := reg.Rotate(newKey); err != nil {
		t.Fatalf("Rotate() unexpected error: %v", err)
	}

	if got := reg.Active().ID; got != newKey.ID {
		t.Errorf("Active().ID = %q, want %q", got, newKey.ID)
	}

	// Token signed with the demoted key still verifies: it is retiring,
	// not revoked.
	if _, err := codec.Verify(raw, reg.Verifiable()); err != nil {
		t.Fatalf("Verify() after rotation: %v", err)
	}

	// Explicit revocation ends the grace period for that key.
	if err := reg.Revoke(oldKey.ID); err != nil {
		t.Fatalf("Revoke() unexpected error: %v", err)
	}
	if _, err := codec.Verify(raw, reg.Verifiable()); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("Verify() after revoke error = %v, want ErrKeyUnavailable", err)
	}
}

func TestRegistry_VerifiableOrder(t *testing.T) {
	k1 := testKey(t)
	reg, err := NewRegistry([]SigningKey{k1})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	k2 := testKey(t)
	k3 := testKey(t)
	if err := reg.Rotate(k2); err != nil {
		t.Fatalf("Rotate(k2) unexpected error: %v", err)
	}
	if err := reg.Rotate(k3); err != nil {
		t.Fatalf("Rotate(k3) unexpected error: %v", err)
	}

	keys := reg.Verifiable()
	if len(keys) != 3 {
		t.Fatalf("Verifiable() len = %d, want 3", len(keys))
	}
	// Active first, then retiring keys newest first.
	if keys[0].ID != k3.ID || keys[1].ID != k2.ID || keys[2].ID != k1.ID {
		t.Errorf("Verifiable() order = [%s %s %s], want [%s %s %s]",
			keys[0].ID, keys[1].ID, keys[2].ID, k3.ID, k2.ID, k1.ID)
	}
	if keys[1].Status != KeyRetiring {
		t.Errorf("demoted key status = %q, want %q", keys[1].Status, KeyRetiring)
	}
}

func TestRegistry_RevokeActiveKeyRefused(t *testing.T) {
	k := testKey(t)
	reg, err := NewRegistry([]SigningKey{k})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}
	if err := reg.Revoke(k.ID); err == nil {
		t.Fatal("Revoke(active) should return error")
	}
}

func TestRegistry_SweepHonorsGracePeriod(t *testing.T) {
	k1 := testKey(t)
	reg, err := NewRegistry([]SigningKey{k1})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	base := time.Now().UTC()
	reg.now = func() time.Time { return base }

	if err := reg.Rotate(testKey(t)); err != nil {
		t.Fatalf("Rotate() unexpected error: %v", err)
	}

	// Inside the grace period: nothing removed.
	reg.now = func() time.Time { return base.Add(30 * time.Minute) }
	if removed := reg.Sweep(time.Hour); removed != 0 {
		t.Fatalf("Sweep() inside grace = %d, want 0", removed)
	}
	if got := len(reg.Verifiable()); got != 2 {
		t.Fatalf("Verifiable() len = %d, want 2", got)
	}

	// Past the grace period: retiring key promoted to revoked.
	reg.now = func() time.Time { return base.Add(2 * time.Hour) }
	if removed := reg.Sweep(time.Hour); removed != 1 {
		t.Fatalf("Sweep() past grace = %d, want 1", removed)
	}
	if got := len(reg.Verifiable()); got != 1 {
		t.Fatalf("Verifiable() len = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentReadsDuringRotation(t *testing.T) {
	reg, err := NewRegistry([]SigningKey{testKey(t)})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// There must never be a window with zero usable keys.
				if len(reg.Active().Secret) == 0 {
					t.Error("Active() returned key with empty secret")
					return
				}
				if len(reg.Verifiable()) == 0 {
					t.Error("Verifiable() returned empty set")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if err := reg.Rotate(testKey(t)); err != nil {
			t.Fatalf("Rotate() unexpected error: %v", err)
		}
		reg.Sweep(0)
	}
	close(done)
	wg.Wait()
}
