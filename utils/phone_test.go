package utils

import "testing"

func TestNormalizePhoneE164(t *testing.T) {
	got, err := NormalizePhoneE164("098123 45678", "IN")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "+919812345678" {
		t.Fatalf("got %s", got)
	}

	got, err = NormalizePhoneE164("+44 20 7946 0958", "IN")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "+442079460958" {
		t.Fatalf("got %s", got)
	}

	for _, bad := range []string{"", "abc", "12"} {
		if _, err := NormalizePhoneE164(bad, "IN"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
