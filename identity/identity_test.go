package identity

import "testing"

func TestIsEmail(t *testing.T) {
	valid := []string{"a@b.co", "user.name@example.com", "x+tag@sub.domain.org"}
	invalid := []string{"", "plain", "a@b", "a b@c.d", "@x.y", "a@.com "}

	for _, s := range valid {
		if !IsEmail(s) {
			t.Errorf("IsEmail(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsEmail(s) {
			t.Errorf("IsEmail(%q) = true, want false", s)
		}
	}
}

func TestIsPhone(t *testing.T) {
	valid := []string{"01012345678", "0161234567", "01987654321"}
	invalid := []string{"", "010-1234-5678", "0101234", "02012345678", "+821012345678"}

	for _, s := range valid {
		if !IsPhone(s) {
			t.Errorf("IsPhone(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsPhone(s) {
			t.Errorf("IsPhone(%q) = true, want false", s)
		}
	}
}

func TestIsBirthDate(t *testing.T) {
	if !IsBirthDate("19970710") {
		t.Error("expected valid birth date")
	}
	for _, s := range []string{"1997071", "199707100", "1997-07-10", ""} {
		if IsBirthDate(s) {
			t.Errorf("IsBirthDate(%q) = true, want false", s)
		}
	}
}

func TestSanitizeDigits(t *testing.T) {
	if got := SanitizeDigits("010-1234-5678", 11); got != "01012345678" {
		t.Errorf("SanitizeDigits = %q", got)
	}
	if got := SanitizeDigits("1997-07-10", 6); got != "199707" {
		t.Errorf("SanitizeDigits with truncation = %q", got)
	}
}
