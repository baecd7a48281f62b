package ratelimit

import (
	"testing"
	"time"
)

func TestRequestLimiterAllowsUpToBudget(t *testing.T) {
	rl := NewRequestLimiter(time.Minute, 3, 100)
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		res := rl.Check("peer-a", now)
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	res := rl.Check("peer-a", now)
	if res.Allowed {
		t.Fatalf("4th request should be rate limited")
	}
	if res.WaitSeconds <= 0 {
		t.Fatalf("expected positive wait_seconds when rate limited")
	}
}

func TestRequestLimiterWindowSlides(t *testing.T) {
	rl := NewRequestLimiter(time.Minute, 1, 100)
	now := time.Unix(1000, 0)
	if !rl.Check("peer-a", now).Allowed {
		t.Fatalf("first request should be allowed")
	}
	if rl.Check("peer-a", now.Add(30*time.Second)).Allowed {
		t.Fatalf("second request within window should be blocked")
	}
	if !rl.Check("peer-a", now.Add(61*time.Second)).Allowed {
		t.Fatalf("request after window elapses should be allowed")
	}
}

func TestRequestLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRequestLimiter(time.Minute, 1, 100)
	now := time.Unix(1000, 0)
	if !rl.Check("peer-a", now).Allowed {
		t.Fatalf("peer-a first request should be allowed")
	}
	if !rl.Check("peer-b", now).Allowed {
		t.Fatalf("peer-b first request should be allowed independently of peer-a")
	}
}

func TestConnectionLimiterEnforcesPerIPCap(t *testing.T) {
	cl := NewConnectionLimiter(2, 100)
	if !cl.Acquire("1.2.3.4") || !cl.Acquire("1.2.3.4") {
		t.Fatalf("first two acquisitions should succeed")
	}
	if cl.Acquire("1.2.3.4") {
		t.Fatalf("third acquisition should fail at cap 2")
	}
	cl.Release("1.2.3.4")
	if !cl.Acquire("1.2.3.4") {
		t.Fatalf("acquisition should succeed after release")
	}
}

func TestConnectionLimiterEnforcesMaxTrackedIPs(t *testing.T) {
	cl := NewConnectionLimiter(1, 2)
	if !cl.Acquire("ip-1") || !cl.Acquire("ip-2") {
		t.Fatalf("first two distinct IPs should be tracked")
	}
	if cl.Acquire("ip-3") {
		t.Fatalf("third distinct IP should be rejected at max_ips=2")
	}
}
