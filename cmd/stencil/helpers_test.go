package main

import (
	"reflect"
	"testing"

	"stencil/internal/dataset"
)

func TestParsePositiveInt(t *testing.T) {
	cases := []struct {
		value string
		want  int
		ok    bool
	}{
		{"5", 5, true},
		{" 12 ", 12, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"five", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := parsePositiveInt(tc.value, "count")
		if tc.ok {
			if err != nil {
				t.Errorf("parsePositiveInt(%q): unexpected error %v", tc.value, err)
				continue
			}
			if got != tc.want {
				t.Errorf("parsePositiveInt(%q) = %d, want %d", tc.value, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("parsePositiveInt(%q): expected error, got %d", tc.value, got)
		}
	}
}

func TestParseHidden(t *testing.T) {
	cases := []struct {
		value string
		want  []int
		ok    bool
	}{
		{"", nil, true},
		{"128", []int{128}, true},
		{"128,64", []int{128, 64}, true},
		{" 32 , 16 ", []int{32, 16}, true},
		{"128,zero", nil, false},
		{"0", nil, false},
		{"64,-1", nil, false},
	}
	for _, tc := range cases {
		got, err := parseHidden(tc.value)
		if tc.ok {
			if err != nil {
				t.Errorf("parseHidden(%q): unexpected error %v", tc.value, err)
				continue
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseHidden(%q) = %v, want %v", tc.value, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("parseHidden(%q): expected error, got %v", tc.value, got)
		}
	}
}

func TestParseFractions(t *testing.T) {
	got, err := parseFractions("0.8,0.1,0.1")
	if err != nil {
		t.Fatalf("parseFractions: %v", err)
	}
	want := dataset.Fractions{Train: 0.8, Validation: 0.1, Test: 0.1}
	if got != want {
		t.Fatalf("parseFractions = %+v, want %+v", got, want)
	}

	for _, bad := range []string{"", "0.8,0.2", "0.8,0.1,0.1,0", "a,b,c"} {
		if _, err := parseFractions(bad); err == nil {
			t.Errorf("parseFractions(%q): expected error", bad)
		}
	}
}

func TestDisplayLabel(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"completed":  "Completed",
		"cancelled":  "Cancelled",
		"max_epochs": "Max Epochs",
		"validation": "Validation",
	}
	for token, want := range cases {
		if got := displayLabel(token); got != want {
			t.Errorf("displayLabel(%q) = %q, want %q", token, got, want)
		}
	}
}
