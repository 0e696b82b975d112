package flow

import (
	"sync"
	"testing"
	"time"
)

func TestCancelFlag_Latch(t *testing.T) {
	flag := NewCancelFlag()
	if flag.IsSet() {
		t.Error("new flag should not be set")
	}
	flag.Set()
	if !flag.IsSet() {
		t.Error("flag should be set after Set()")
	}
	// Setting again is a no-op, the latch never clears
	flag.Set()
	if !flag.IsSet() {
		t.Error("flag should stay set")
	}
}

func TestPending_ClaimOnce(t *testing.T) {
	pending := NewPending("req-1", "acme:bob", "acme", &DeviceVariant{
		DeviceCode: "device-code",
		UserCode:   "ABCD-EFGH",
		Interval:   5 * time.Second,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	})

	if pending.Claimed() {
		t.Error("new flow should not be claimed")
	}
	if !pending.Claim() {
		t.Fatal("first Claim() should succeed")
	}
	if pending.Claim() {
		t.Error("second Claim() should fail")
	}
	if !pending.Claimed() {
		t.Error("Claimed() should report true after Claim()")
	}
}

func TestPending_ConcurrentClaim(t *testing.T) {
	pending := NewPending("req-1", "acme:bob", "acme", &DeviceVariant{
		DeviceCode: "device-code",
		Interval:   time.Second,
		ExpiresAt:  time.Now().Add(time.Minute),
	})

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pending.Claim() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent Claim() should win, got %d", count)
	}
}

func TestPending_VariantTags(t *testing.T) {
	ch := make(chan Result, 1)
	tests := []struct {
		name    string
		variant Variant
	}{
		{"pkce", &PKCEVariant{Verifier: "v", Completion: NewCompletion(ch)}},
		{"device", &DeviceVariant{DeviceCode: "d"}},
		{"cookie", &CookieVariant{ExpiresAt: time.Now().Add(time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending := NewPending("req", "acct", "prov", tt.variant)
			if pending.Variant != tt.variant {
				t.Error("variant should be stored as provided")
			}
			if pending.StartedAt.IsZero() {
				t.Error("StartedAt should be populated")
			}
			if pending.Cancel == nil {
				t.Error("cancel flag should be allocated")
			}
		})
	}
}
