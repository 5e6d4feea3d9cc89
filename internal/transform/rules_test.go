package transform

import (
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/model"
)

func TestDefaultRulesNamesAreUnique(t *testing.T) {
	rules := DefaultRules()
	seen := map[string]bool{}
	for _, r := range rules {
		if seen[r.Name] {
			t.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
}

func TestBalanceRuleMatchesBalanceKeyOnly(t *testing.T) {
	rule := balanceRule()

	if !rule.KeyFilter([]string{"0", "1", "2"}) {
		t.Error("expected balance rule to match key with prefix segment 0")
	}
	if rule.KeyFilter([]string{"1", "2"}) {
		t.Error("balance rule should not match a non-balance prefix")
	}
	if rule.KeyFilter([]string{"0"}) {
		t.Error("balance rule requires at least one segment after the prefix")
	}
}

func TestBalanceRuleProjectsRawValue(t *testing.T) {
	rule := balanceRule()
	value := "100"
	e := model.WasmEvent{Value: &value}

	out, ok := rule.Project(e, []string{"0", "1"})
	if !ok {
		t.Fatal("expected balance rule to project a value")
	}
	if out != "100" {
		t.Errorf("projected value = %v, want 100", out)
	}
}

func TestBalanceRulePropagatesDelete(t *testing.T) {
	if !balanceRule().PropagateDelete {
		t.Error("balance rule should propagate deletes as tombstone transformations")
	}
}

func TestTokenInfoRuleMatchesOnlySingletonKey(t *testing.T) {
	rule := tokenInfoRule()
	if !rule.KeyFilter([]string{"1"}) {
		t.Error("expected token_info rule to match the bare singleton key")
	}
	if rule.KeyFilter([]string{"1", "2"}) {
		t.Error("token_info rule should not match a map entry")
	}
}
