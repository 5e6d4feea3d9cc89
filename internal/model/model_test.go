package model

import "testing"

func TestDependencyIntersectsPoint(t *testing.T) {
	dep := Dependency{Kind: DependencyPoint, Contract: "wasm1abc", KeyOrPfx: "0,1,2"}

	if !dep.Intersects("wasm1abc", "0,1,2") {
		t.Error("expected point dependency to intersect exact key match")
	}
	if dep.Intersects("wasm1abc", "0,1,2,3") {
		t.Error("point dependency must not intersect a longer key")
	}
	if dep.Intersects("wasm1other", "0,1,2") {
		t.Error("point dependency must not intersect a different contract")
	}
}

func TestDependencyIntersectsPrefix(t *testing.T) {
	dep := Dependency{Kind: DependencyPrefix, Contract: "wasm1abc", KeyOrPfx: "0,1"}

	cases := []struct {
		key  string
		want bool
	}{
		{"0,1", true},
		{"0,1,2", true},
		{"0,1,2,3", true},
		{"0,12", false},
		{"0,2", false},
	}

	for _, tc := range cases {
		if got := dep.Intersects("wasm1abc", tc.key); got != tc.want {
			t.Errorf("Intersects(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestDependencyIntersectsEmptyPrefixMatchesEverything(t *testing.T) {
	dep := Dependency{Kind: DependencyPrefix, Contract: "wasm1abc", KeyOrPfx: ""}
	if !dep.Intersects("wasm1abc", "anything,at,all") {
		t.Error("empty prefix dependency should intersect any key under the same contract")
	}
}
