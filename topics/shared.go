// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

const sharePrefix = "$share/"

// ParseShared parses a shared subscription filter of the form
// $share/{ShareName}/{TopicFilter}.
//
// Examples:
//   - "$share/group1/sensors/#" -> ("group1", "sensors/#", true)
//   - "sensors/#" -> ("", "sensors/#", false)
func ParseShared(filter string) (shareName, topicFilter string, isShared bool) {
	rest, ok := strings.CutPrefix(filter, sharePrefix)
	if !ok {
		return "", filter, false
	}
	name, f, ok := strings.Cut(rest, "/")
	if !ok {
		return "", filter, false
	}
	return name, f, true
}

// IsShared returns true if the filter is a shared subscription.
func IsShared(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}

// ShareGroup distributes deliveries round-robin across its members.
// It is not safe for concurrent use.
type ShareGroup struct {
	Name        string
	TopicFilter string
	members     []uint64
	next        int
}

// Next returns the member that receives the next delivery.
func (g *ShareGroup) Next() (uint64, bool) {
	if len(g.members) == 0 {
		return 0, false
	}
	if g.next >= len(g.members) {
		g.next = 0
	}
	id := g.members[g.next]
	g.next = (g.next + 1) % len(g.members)
	return id, true
}

// Add adds a member. It returns false if id is already a member.
func (g *ShareGroup) Add(id uint64) bool {
	for _, m := range g.members {
		if m == id {
			return false
		}
	}
	g.members = append(g.members, id)
	return true
}

// Remove removes a member. It returns false if id was not a member.
func (g *ShareGroup) Remove(id uint64) bool {
	for i, m := range g.members {
		if m == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			if i < g.next {
				g.next--
			}
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (g *ShareGroup) Len() int {
	return len(g.members)
}
