package checksum

import "testing"

func TestStringStable(t *testing.T) {
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := String("hello"); got != want {
		t.Errorf("String = %s", got)
	}
	if String("hello") != Sum([]byte("hello")) {
		t.Error("String and Sum disagree")
	}
}

func TestShort(t *testing.T) {
	if got := Short(String("hello")); got != "2cf24dba" {
		t.Errorf("Short = %s", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Errorf("Short(abc) = %s", got)
	}
}
