package cli

import (
	"testing"
	"time"
)

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1234, "1.2K"},
		{1_234_567, "1.2M"},
		{1_234_567_890, "1.2B"},
		{-1500, "-1.5K"},
	}
	for _, tt := range tests {
		if got := FormatTokens(tt.in); got != tt.want {
			t.Errorf("FormatTokens(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{0.5, "$0.50"},
		{0.0042, "$0.0042"},
		{3.456, "$3.46"},
		{12.34, "$12.3"},
		{123.4, "$123"},
		{12345.6, "$12,346"},
	}
	for _, tt := range tests {
		if got := FormatCost(tt.in); got != tt.want {
			t.Errorf("FormatCost(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatOptionalCost(nil); got != "-" {
		t.Errorf("FormatOptionalCost(nil) = %q, want -", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{125 * time.Second, "2m"},
		{3725 * time.Second, "1h 2m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Minute, "now"},
		{42 * time.Minute, "42m"},
		{3*time.Hour + 5*time.Minute, "3h 5m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := FormatCountdown(tt.in); got != tt.want {
			t.Errorf("FormatCountdown(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-98765, "-98,765"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(2.34); got != "2.3 tok/s" {
		t.Errorf("FormatRate(2.34) = %q", got)
	}
	if got := FormatRate(1520); got != "1.5K tok/s" {
		t.Errorf("FormatRate(1520) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate kept = %q", got)
	}
	if got := Truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("Truncate = %q, want abcd…", got)
	}
}
