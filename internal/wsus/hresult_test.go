package wsus

import (
	"errors"
	"strings"
	"testing"
)

func TestFormatHResultKnownCode(t *testing.T) {
	got := FormatHResult(0x80040154)
	if !strings.HasPrefix(got, "0x80040154: REGDB_E_CLASSNOTREG: ") {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestFormatHResultUnknownCode(t *testing.T) {
	if got := FormatHResult(0x80004005); got != "0x80004005: unknown HRESULT" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestHResultClassification(t *testing.T) {
	if !IsAccessDenied(0x80070005) {
		t.Fatal("E_ACCESSDENIED should be access denied")
	}
	if !IsNotRegistered(0x80040154) || !IsNotRegistered(0x800401F3) {
		t.Fatal("class registration errors should be not-registered")
	}
	if !IsNetworkError(0x80072EFD) || !IsNetworkError(0x800706BA) {
		t.Fatal("connection failures should be network errors")
	}
	if IsNetworkError(0x80070005) {
		t.Fatal("access denied is not a network error")
	}
}

func TestHResultCause(t *testing.T) {
	cases := []struct {
		hr   int
		want error
	}{
		{0x80070005, ErrAccessDenied},
		{0x80040154, ErrAPINotInstalled},
		{0x80072EFD, ErrServerUnreachable},
		{0x80004005, nil},
	}
	for _, tc := range cases {
		got := hresultCause(tc.hr)
		if !errors.Is(got, tc.want) || (tc.want == nil && got != nil) {
			t.Fatalf("hresultCause(0x%08X) = %v, want %v", uint32(tc.hr), got, tc.want)
		}
	}
}
