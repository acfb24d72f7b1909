// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

// TopicMatch checks if the topic matches the given filter according to MQTT
// wildcard rules: '+' matches one level, a trailing '#' matches the parent
// level and everything below it, and wildcards at the first level never match
// topics starting with '$'.
//
// It walks both strings level by level without allocating, since it runs on
// every delivery.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}
	if topic[0] == '$' && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	for {
		fLevel, fRest, fMore := strings.Cut(filter, "/")

		if fLevel == "#" {
			return !fMore
		}

		tLevel, tRest, tMore := strings.Cut(topic, "/")
		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		switch {
		case !fMore && !tMore:
			return true
		case !tMore:
			// "a/#" matches "a".
			return fRest == "#"
		case !fMore:
			return false
		}
		filter, topic = fRest, tRest
	}
}
