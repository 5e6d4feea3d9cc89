package webhook

import (
	"encoding/json"
	"testing"

	"github.com/sascha1337/wasmd-indexer/internal/config"
	"github.com/sascha1337/wasmd-indexer/internal/model"
)

func TestFromConfigFilterMatchesKeyPrefixAndContract(t *testing.T) {
	subs := FromConfig([]config.WebhookSubscriptionConfig{
		{Name: "balances", KeyPrefix: "balance:", ContractAddr: "wasm1abc", EndpointURL: "https://example.com"},
	})
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	sub := subs[0]

	if !sub.Filter(model.WasmEvent{ContractAddress: "wasm1abc", Key: "balance:holder1"}) {
		t.Error("expected filter to match contract+prefix")
	}
	if sub.Filter(model.WasmEvent{ContractAddress: "wasm1other", Key: "balance:holder1"}) {
		t.Error("filter should reject a different contract")
	}
	if sub.Filter(model.WasmEvent{ContractAddress: "wasm1abc", Key: "other:holder1"}) {
		t.Error("filter should reject a non-matching key prefix")
	}
}

func TestFromConfigEndpointResolution(t *testing.T) {
	subs := FromConfig([]config.WebhookSubscriptionConfig{
		{Name: "url-sub", EndpointURL: "https://example.com/hook"},
		{Name: "soketi-sub", SoketiChannel: "updates", SoketiEvent: "changed"},
	})

	urlEndpoint, err := subs[0].Endpoint(model.WasmEvent{})
	if err != nil {
		t.Fatalf("url endpoint: %v", err)
	}
	if urlEndpoint.Kind != EndpointURL || urlEndpoint.Method != "POST" {
		t.Errorf("url endpoint = %+v, want Kind=EndpointURL Method=POST", urlEndpoint)
	}

	soketiEndpoint, err := subs[1].Endpoint(model.WasmEvent{})
	if err != nil {
		t.Fatalf("soketi endpoint: %v", err)
	}
	if soketiEndpoint.Kind != EndpointSoketi || soketiEndpoint.SoketiChannel != "updates" {
		t.Errorf("soketi endpoint = %+v, want Kind=EndpointSoketi SoketiChannel=updates", soketiEndpoint)
	}
}

func TestCurrentValueTombstoneIsNil(t *testing.T) {
	if v := currentValue(model.WasmEvent{Delete: true}); v != nil {
		t.Errorf("currentValue(tombstone) = %v, want nil", v)
	}
}

func TestCurrentValuePrefersValueJSON(t *testing.T) {
	raw := "raw-string"
	e := model.WasmEvent{ValueJSON: []byte(`{"a":1}`), Value: &raw}
	v := currentValue(e)
	rawMsg, ok := v.(json.RawMessage)
	if !ok {
		t.Fatalf("currentValue should return json.RawMessage when ValueJSON is set, got %T", v)
	}
	if string(rawMsg) != `{"a":1}` {
		t.Errorf("currentValue = %s, want {\"a\":1}", rawMsg)
	}
}
