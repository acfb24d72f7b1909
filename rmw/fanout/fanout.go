// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package fanout delivers published loans to in-process subscribers without
// copying. Handlers see the middleware buffer itself and must not keep it.
package fanout

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/fluxloan/rmw"
	"github.com/absmach/fluxloan/topics"
)

// ErrClosed is returned by Subscribe and Deliver after Close.
var ErrClosed = errors.New("fanout closed")

// Handler receives a delivered payload. The payload is only valid until the
// handler returns.
type Handler func(topic string, payload []byte)

type subscription struct {
	id      uint64
	filter  string
	handler Handler
	group   *topics.ShareGroup
}

// Fanout is an rmw.Sink that dispatches to subscribers whose filter matches
// the published topic. Members of a $share group receive deliveries
// round-robin. It is safe for concurrent use.
type Fanout struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	groups map[string]*topics.ShareGroup
	nextID uint64
	closed bool
	logger *slog.Logger
}

var _ rmw.Sink = (*Fanout)(nil)

// New creates an empty Fanout.
func New(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		subs:   make(map[uint64]*subscription),
		groups: make(map[string]*topics.ShareGroup),
		logger: logger,
	}
}

// Subscribe registers handler for topics matching filter. The returned
// function removes the subscription.
func (f *Fanout) Subscribe(filter string, handler Handler) (func(), error) {
	if err := topics.ValidateFilter(filter); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	f.nextID++
	sub := &subscription{id: f.nextID, filter: filter, handler: handler}
	if name, tf, ok := topics.ParseShared(filter); ok {
		g, exists := f.groups[filter]
		if !exists {
			g = &topics.ShareGroup{Name: name, TopicFilter: tf}
			f.groups[filter] = g
		}
		g.Add(sub.id)
		sub.filter = tf
		sub.group = g
	}
	f.subs[sub.id] = sub

	var once sync.Once
	return func() {
		once.Do(func() { f.unsubscribe(sub.id) })
	}, nil
}

func (f *Fanout) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	if sub.group != nil {
		sub.group.Remove(id)
		if sub.group.Len() == 0 {
			for key, g := range f.groups {
				if g == sub.group {
					delete(f.groups, key)
				}
			}
		}
	}
}

// Deliver calls every matching handler in turn before returning.
func (f *Fanout) Deliver(topic string, payload []byte) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	var targets []Handler
	for _, sub := range f.subs {
		if sub.group != nil || !topics.TopicMatch(sub.filter, topic) {
			continue
		}
		targets = append(targets, sub.handler)
	}
	for _, g := range f.groups {
		if !topics.TopicMatch(g.TopicFilter, topic) {
			continue
		}
		if id, ok := g.Next(); ok {
			targets = append(targets, f.subs[id].handler)
		}
	}
	f.mu.Unlock()

	if len(targets) == 0 {
		f.logger.Debug("no subscribers for published loan", slog.String("topic", topic))
	}
	for _, h := range targets {
		h(topic, payload)
	}
	return nil
}

// Subscriptions returns the number of active subscriptions.
func (f *Fanout) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drops all subscriptions.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	clear(f.subs)
	clear(f.groups)
	return nil
}
