package cardfmt

import "testing"

func TestNormalizeNumber(t *testing.T) {
	if got := NormalizeNumber(" 4212-3456 7890\t1234 "); got != "4212345678901234" {
		t.Fatalf("NormalizeNumber got %q", got)
	}
}

func TestMaskGrouped(t *testing.T) {
	cases := []struct{ in, out string }{
		{"4212 3456 7890 1234", "**** **** **** 1234"},
		{"4212345678901234", "**** **** **** 1234"},
		{"987", "**** **** **** 987"},
		{"", ""},
	}
	for _, c := range cases {
		if got := MaskGrouped(c.in); got != c.out {
			t.Fatalf("MaskGrouped(%q) = %q want %q", c.in, got, c.out)
		}
	}
}

func TestMaskShort(t *testing.T) {
	if got := MaskShort("5500-0000-0000-0004"); got != "**** 0004" {
		t.Fatalf("MaskShort got %q", got)
	}
	if got := MaskShort("  "); got != "" {
		t.Fatalf("MaskShort blank got %q", got)
	}
}

func TestValidateNumber(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"4212 3456 7890 1234", true},
		{"1234", true},
		{"123", false},
		{"", false},
		{"4212-abcd", false},
		{"12345678901234567890", false},
	}
	for _, c := range cases {
		err := ValidateNumber(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateNumber(%q) ok=%v got err=%v", c.in, c.ok, err)
		}
	}
}

func TestValidColorHex(t *testing.T) {
	if !ValidColorHex("#1A2b3C") {
		t.Fatalf("expected #1A2b3C to be valid")
	}
	for _, s := range []string{"", "#12345", "123456", "#12345G", "#1234567"} {
		if ValidColorHex(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}
