// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultCleanup = 5 * time.Minute

// TopicLimiter limits how fast loans are lent per topic.
// A nil *TopicLimiter allows everything.
type TopicLimiter struct {
	mu       sync.Mutex
	limiters map[string]*topicEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type topicEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTopicLimiter creates a per-topic limiter allowing r loans per second
// with the given burst. It returns nil when r is zero, disabling limiting.
// Limiters idle for twice cleanupInterval are dropped.
func NewTopicLimiter(r float64, burst int, cleanupInterval time.Duration) *TopicLimiter {
	if r <= 0 {
		return nil
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanup
	}
	l := &TopicLimiter{
		limiters: make(map[string]*topicEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a loan on topic may be lent now.
func (l *TopicLimiter) Allow(topic string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	entry, exists := l.limiters[topic]
	if !exists {
		entry = &topicEntry{
			limiter: rate.NewLimiter(l.rate, l.burst),
		}
		l.limiters[topic] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Remove drops the limiter for topic.
func (l *TopicLimiter) Remove(topic string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, topic)
}

// Len returns the number of tracked topics.
func (l *TopicLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *TopicLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStale(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *TopicLimiter) cleanupStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := now.Add(-l.cleanup * 2)
	for topic, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, topic)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *TopicLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
