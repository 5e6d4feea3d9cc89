package formula

import (
	"encoding/json"
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/model"
)

func TestJSONEqualIgnoresKeyOrder(t *testing.T) {
	a := json.RawMessage(`{"a":1,"b":2}`)
	b := json.RawMessage(`{"b":2,"a":1}`)
	if !jsonEqual(a, b) {
		t.Error("jsonEqual should treat differently-ordered object keys as equal")
	}
}

func TestJSONEqualDetectsDifference(t *testing.T) {
	a := json.RawMessage(`{"a":1}`)
	b := json.RawMessage(`{"a":2}`)
	if jsonEqual(a, b) {
		t.Error("jsonEqual should detect differing values")
	}
}

func TestJSONEqualFallsBackToByteCompareOnInvalidJSON(t *testing.T) {
	a := json.RawMessage(`not json`)
	b := json.RawMessage(`not json`)
	if !jsonEqual(a, b) {
		t.Error("jsonEqual should fall back to a byte comparison for non-JSON input")
	}
}

func TestMergeDepsDedupesAcrossBothSlices(t *testing.T) {
	a := []model.Dependency{{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "x"}}
	b := []model.Dependency{
		{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "x"},
		{Kind: model.DependencyPoint, Contract: "c1", KeyOrPfx: "y"},
	}
	merged := mergeDeps(a, b)
	if len(merged) != 2 {
		t.Fatalf("len(merged) = %d, want 2", len(merged))
	}
}
