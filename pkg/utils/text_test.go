package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestHashIdentity(t *testing.T) {
	a := HashIdentity("key-1")
	if len(a) != 8 {
		t.Fatalf("expected 8 hex chars, got %q", a)
	}
	if a != HashIdentity("key-1") {
		t.Error("hash must be stable")
	}
	if a == HashIdentity("key-2") {
		t.Error("different identities should hash differently")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash must be stable")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should hash differently")
	}
	if HashString("") != 0 {
		t.Error("empty string hashes to 0")
	}
}
