package store

import "testing"

func TestCompCaseByteRoundTrips(t *testing.T) {
	for _, c := range []CompCase{CaseUnknown, CaseDBNo, CaseDBYes, CaseForcedNo, CaseForcedYes, CaseSizeNo, CaseSizeYes, CaseAutoNow, CaseAutoLater} {
		if got := ParseCompCase(c.Byte()); got != c {
			t.Fatalf("ParseCompCase(%c) = %v, want %v", c.Byte(), got, c)
		}
	}
}

func TestParseUnknownCharIsCaseUnknown(t *testing.T) {
	if got := ParseCompCase('?'); got != CaseUnknown {
		t.Fatalf("ParseCompCase('?') = %v, want CaseUnknown", got)
	}
}
