package computation

import (
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/formula"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a := formula.Args{"z": "1", "a": "2"}
	b := formula.Args{"a": "2", "z": "1"}

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize(a): %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize(b): %v", err)
	}

	if ca != cb {
		t.Errorf("Canonicalize should be insertion-order independent: %q != %q", ca, cb)
	}
}

func TestCanonicalizeEmptyArgs(t *testing.T) {
	got, err := Canonicalize(formula.Args{})
	if err != nil {
		t.Fatalf("Canonicalize(empty): %v", err)
	}
	if got != "{}" {
		t.Errorf("Canonicalize(empty) = %q, want {}", got)
	}
}
