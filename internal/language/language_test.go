package language

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"en", "en"},
		{"zh-CN", "zh"},
		{"EN-us", "en"},
		{"ja", "ja"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := Normalize(""); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestValidatePair(t *testing.T) {
	if err := ValidatePair("en", "zh", "gptsovits"); err != nil {
		t.Fatalf("en->zh gptsovits should validate: %v", err)
	}
	if err := ValidatePair("en", "ko", "gptsovits"); err != nil {
		t.Fatalf("en->ko gptsovits should validate: %v", err)
	}
	if err := ValidatePair("en", "ko", "indextts"); err == nil {
		t.Fatal("indextts cannot speak korean")
	}
	if err := ValidatePair("en", "en", "gptsovits"); err == nil {
		t.Fatal("identical pair should be rejected")
	}
	if err := ValidatePair("en", "zh", "espeak"); err == nil {
		t.Fatal("unknown engine should be rejected")
	}
}
