package ui

import (
	"bufio"
	"strings"
	"testing"
)

func feedInput(t *testing.T, input string) {
	t.Helper()
	old := stdin
	stdin = bufio.NewReader(strings.NewReader(input))
	t.Cleanup(func() { stdin = old })
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		max    int
		want   int
		wantOK bool
	}{
		{name: "first item", input: "1", max: 3, want: 0, wantOK: true},
		{name: "last item", input: "3", max: 3, want: 2, wantOK: true},
		{name: "padded", input: " 2 ", max: 3, want: 1, wantOK: true},
		{name: "zero", input: "0", max: 3},
		{name: "out of range", input: "4", max: 3},
		{name: "not a number", input: "x", max: 3},
		{name: "empty", input: "", max: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSelection(tt.input, tt.max)
			if ok != tt.wantOK {
				t.Fatalf("parseSelection(%q, %d) ok = %v, want %v", tt.input, tt.max, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseSelection(%q, %d) = %d, want %d", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestSelectIndex(t *testing.T) {
	feedInput(t, "2\n")
	idx, err := SelectIndex("pick:", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("SelectIndex() error: %v", err)
	}
	if idx != 1 {
		t.Errorf("SelectIndex() = %d, want 1", idx)
	}
}

func TestSelectIndexRetriesThenFails(t *testing.T) {
	feedInput(t, "x\n99\n\n")
	_, err := SelectIndex("pick:", []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSelectIndexRecoversAfterBadInput(t *testing.T) {
	feedInput(t, "bogus\n1\n")
	idx, err := SelectIndex("pick:", []string{"a", "b"})
	if err != nil {
		t.Fatalf("SelectIndex() error: %v", err)
	}
	if idx != 0 {
		t.Errorf("SelectIndex() = %d, want 0", idx)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "Y\n", want: true},
		{input: "yes\n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "whatever\n", want: false},
	}

	for _, tt := range tests {
		feedInput(t, tt.input)
		got, err := Confirm("proceed?")
		if err != nil {
			t.Fatalf("Confirm() error: %v", err)
		}
		if got != tt.want {
			t.Errorf("Confirm() with %q = %v, want %v", strings.TrimSpace(tt.input), got, tt.want)
		}
	}
}

func TestBannerLineWidth(t *testing.T) {
	for _, text := range []string{"", "hoplink", "VPN session launcher v9.9.9"} {
		line := bannerLine(text)
		if got := len([]rune(line)); got != 42 {
			t.Errorf("bannerLine(%q) width = %d, want 42", text, got)
		}
	}
}
