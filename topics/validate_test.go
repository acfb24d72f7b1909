// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/fluxloan/topics"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"valid/topic", false},
		{"invalid/+", true},
		{"invalid/#", true},
		{"", true},
		{string([]byte{0xFF, 0xFE}), true}, // Invalid UTF-8
		{"null\u0000char", true},
	}

	for _, tt := range tests {
		if err := topics.ValidateTopicName(tt.topic); (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopicName(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"sensors/temp", false},
		{"sensors/+/temp", false},
		{"sensors/#", false},
		{"#", false},
		{"+", false},
		{"sensors/#/temp", true},
		{"sensors/te+mp", true},
		{"sensors/temp#", true},
		{"", true},
		{"$share/group/sensors/#", false},
		{"$share//sensors/#", true},
		{"$share/gr+oup/sensors", true},
		{"$share/group", true},
		{"$share/group/", true},
	}

	for _, tt := range tests {
		if err := topics.ValidateFilter(tt.filter); (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
		}
	}
}
