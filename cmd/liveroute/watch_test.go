package main

import "testing"

func TestAttachURL(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"http://localhost:8080/board", "ws://localhost:8080/_live/abc"},
		{"https://example.com/clock?n=5", "wss://example.com/_live/abc"},
	}
	for _, tt := range tests {
		got, err := attachURL(tt.target, "/_live", "abc")
		if err != nil {
			t.Fatalf("attachURL(%q) error: %v", tt.target, err)
		}
		if got != tt.want {
			t.Errorf("attachURL(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
