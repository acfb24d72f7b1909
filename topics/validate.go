// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrInvalidTopicName   = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

// ValidateTopicName checks that topic can be published to: non-empty, valid
// UTF-8, no wildcards and no NUL characters.
func ValidateTopicName(topic string) error {
	if topic == "" || !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	if strings.ContainsAny(topic, "+#\u0000") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks that filter is a well-formed subscription filter.
// '+' must occupy a whole level and '#' must be the whole last level.
// Shared filters are validated on their topic filter part.
func ValidateFilter(filter string) error {
	if name, f, ok := ParseShared(filter); ok {
		if name == "" || strings.ContainsAny(name, "+#") {
			return ErrInvalidTopicFilter
		}
		filter = f
	} else if IsShared(filter) {
		return ErrInvalidTopicFilter
	}

	if filter == "" || !utf8.ValidString(filter) || strings.ContainsRune(filter, '\u0000') {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidTopicFilter
		}
	}
	return nil
}
