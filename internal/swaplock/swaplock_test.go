package swaplock

import (
	"testing"
	"time"
)

func TestTryLock_SecondAttemptContested(t *testing.T) {
	l := New()
	_, ok := l.TryLock("swap-1", 10*time.Second)
	if !ok {
		t.Fatal("first TryLock should succeed")
	}

	if _, ok := l.TryLock("swap-1", 10*time.Second); ok {
		t.Error("second TryLock on same key should be contested")
	}
}

func TestTryLock_DifferentKeysIndependent(t *testing.T) {
	l := New()
	if _, ok := l.TryLock("swap-1", 10*time.Second); !ok {
		t.Fatal("TryLock(swap-1) should succeed")
	}
	if _, ok := l.TryLock("swap-2", 10*time.Second); !ok {
		t.Error("TryLock(swap-2) should succeed independently of swap-1")
	}
}

func TestUnlock_ReleasesBeforeLeaseExpires(t *testing.T) {
	l := New()
	unlock, ok := l.TryLock("swap-1", time.Minute)
	if !ok {
		t.Fatal("TryLock should succeed")
	}
	unlock()

	if _, ok := l.TryLock("swap-1", time.Minute); !ok {
		t.Error("TryLock after unlock should succeed")
	}
}

func TestTryLock_LeaseExpiresNaturally(t *testing.T) {
	var fakeNow time.Time = time.Unix(1000, 0)
	l := New()
	l.now = func() time.Time { return fakeNow }

	if _, ok := l.TryLock("swap-1", 5*time.Second); !ok {
		t.Fatal("first TryLock should succeed")
	}
	if _, ok := l.TryLock("swap-1", 5*time.Second); ok {
		t.Fatal("immediate retry should be contested")
	}

	fakeNow = fakeNow.Add(6 * time.Second)
	if _, ok := l.TryLock("swap-1", 5*time.Second); !ok {
		t.Error("TryLock after lease expiry should succeed without an explicit unlock")
	}
}

func TestUnlock_StaleTokenIsNoop(t *testing.T) {
	var fakeNow time.Time = time.Unix(2000, 0)
	l := New()
	l.now = func() time.Time { return fakeNow }

	unlock1, ok := l.TryLock("swap-1", 1*time.Second)
	if !ok {
		t.Fatal("first TryLock should succeed")
	}

	fakeNow = fakeNow.Add(2 * time.Second) // lease expires
	unlock2, ok := l.TryLock("swap-1", 10*time.Second)
	if !ok {
		t.Fatal("TryLock after expiry should succeed")
	}

	unlock1() // stale — must not clobber the second holder's lease
	if _, ok := l.TryLock("swap-1", time.Second); ok {
		t.Error("stale unlock must not have released the current holder's lease")
	}
	unlock2()
}

func TestPrune_RemovesExpiredEntries(t *testing.T) {
	var fakeNow time.Time = time.Unix(3000, 0)
	l := New()
	l.now = func() time.Time { return fakeNow }

	l.TryLock("swap-1", time.Second)
	fakeNow = fakeNow.Add(time.Hour)
	l.Prune(time.Minute)

	if len(l.entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 after pruning", len(l.entries))
	}
}
