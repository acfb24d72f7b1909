// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestTopicLimiter_Allow(t *testing.T) {
	// 5 loans per second, burst of 2
	limiter := NewTopicLimiter(5, 2, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("sensors/temp") {
		t.Error("First loan should be allowed")
	}
	if !limiter.Allow("sensors/temp") {
		t.Error("Second loan (within burst) should be allowed")
	}
	if limiter.Allow("sensors/temp") {
		t.Error("Third loan should be rate limited (burst exhausted)")
	}

	time.Sleep(250 * time.Millisecond)

	if !limiter.Allow("sensors/temp") {
		t.Error("Loan after token refill should be allowed")
	}
}

func TestTopicLimiter_DifferentTopics(t *testing.T) {
	limiter := NewTopicLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("a") {
		t.Error("First loan on a should be allowed")
	}
	if !limiter.Allow("b") {
		t.Error("First loan on b should be allowed")
	}
	if limiter.Allow("a") {
		t.Error("Second loan on a should be rate limited")
	}
	if limiter.Allow("b") {
		t.Error("Second loan on b should be rate limited")
	}
}

func TestTopicLimiter_Disabled(t *testing.T) {
	limiter := NewTopicLimiter(0, 0, time.Minute)
	if limiter != nil {
		t.Fatal("zero rate should disable limiting")
	}
	for i := 0; i < 1000; i++ {
		if !limiter.Allow("a") {
			t.Fatal("disabled limiter should allow every loan")
		}
	}
	limiter.Stop()
	limiter.Remove("a")
}

func TestTopicLimiter_Remove(t *testing.T) {
	limiter := NewTopicLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	limiter.Allow("a")
	if limiter.Allow("a") {
		t.Error("Second loan should be rate limited")
	}

	limiter.Remove("a")
	if !limiter.Allow("a") {
		t.Error("Loan after removal should start a fresh limiter")
	}
}

func TestTopicLimiter_CleanupStale(t *testing.T) {
	limiter := NewTopicLimiter(10, 1, time.Minute)
	defer limiter.Stop()

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Len() != 2 {
		t.Fatalf("expected 2 tracked topics, got %d", limiter.Len())
	}

	limiter.cleanupStale(time.Now().Add(3 * time.Minute))
	if limiter.Len() != 0 {
		t.Errorf("expected stale limiters to be dropped, got %d", limiter.Len())
	}
}

func TestTopicLimiter_StopTwice(t *testing.T) {
	limiter := NewTopicLimiter(1, 1, time.Minute)
	limiter.Stop()
	limiter.Stop()
}
