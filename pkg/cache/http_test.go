package cache

import (
	"testing"
	"time"
)

func TestCacheControl(t *testing.T) {
	tests := []struct {
		ttl    time.Duration
		shared bool
		want   string
	}{
		{4 * 24 * time.Hour, false, "public, max-age=345600"},
		{time.Hour, true, "public, s-maxage=3600"},
		{30 * 24 * time.Hour, true, "public, s-maxage=2592000"},
	}

	for _, tt := range tests {
		if got := CacheControl(tt.ttl, tt.shared); got != tt.want {
			t.Errorf("CacheControl(%v, %v) = %q, want %q", tt.ttl, tt.shared, got, tt.want)
		}
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"public, max-age=345600", 4 * 24 * time.Hour, true},
		{"public, s-maxage=3600", time.Hour, true},
		{"max-age=60, s-maxage=3600", time.Hour, true},
		{"s-maxage=3600, max-age=60", time.Hour, true},
		{"Public, Max-Age=120", 2 * time.Minute, true},
		{`max-age="30"`, 30 * time.Second, true},
		{"max-age=0", 0, true},
		{"public, max-age=abc", 0, false},
		{"public, s-maxage=-5, max-age=10", 10 * time.Second, true},
		{"no-store", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseMaxAge(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseMaxAge(%q) = (%v, %v), want (%v, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseMaxAge_RoundTrip(t *testing.T) {
	for _, shared := range []bool{false, true} {
		got, ok := ParseMaxAge(CacheControl(96*time.Hour, shared))
		if !ok || got != 96*time.Hour {
			t.Errorf("ParseMaxAge(CacheControl(96h, %v)) = (%v, %v)", shared, got, ok)
		}
	}
}
