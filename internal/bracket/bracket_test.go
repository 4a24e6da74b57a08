package bracket

import "testing"

func TestValidateBalanced(t *testing.T) {
	cases := []string{
		"",
		"expr {1 + 1}",
		"proc greet {n} { return \"Hello, $n!\" }",
		`\{ escaped open, unbalanced \} escaped close`,
		"{{{}}}",
	}
	for _, c := range cases {
		if err := Validate(c); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", c, err)
		}
	}
}

func TestValidateUnmatchedClosing(t *testing.T) {
	err := Validate("proc greet {n} } return $n")
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != UnmatchedClosing {
		t.Fatalf("got %v, want UnmatchedClosing", err)
	}
}

func TestValidateUnmatchedOpening(t *testing.T) {
	err := Validate("proc greet {n { return $n }")
	if err == nil {
		t.Fatal("expected error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != UnmatchedOpening {
		t.Fatalf("got %v, want UnmatchedOpening", err)
	}
}

func TestValidateEscapedBraceDoesNotCount(t *testing.T) {
	if err := Validate(`puts \{`); err != nil {
		t.Fatalf("escaped brace should not count toward depth: %v", err)
	}
}
