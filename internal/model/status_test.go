package model

import "testing"

func TestItemState_IsActive(t *testing.T) {
	tests := []struct {
		state    ItemState
		expected bool
	}{
		{ItemStateStart, false},
		{ItemStateFetchingMetadata, true},
		{ItemStateValidating, true},
		{ItemStateFetchingAssets, true},
		{ItemStateReady, false},
		{ItemStateFailed, false},
	}

	for _, test := range tests {
		result := test.state.IsActive()
		if result != test.expected {
			t.Errorf("ItemState(%s).IsActive() = %v, expected %v", test.state, result, test.expected)
		}
	}
}

func TestItemState_IsFinished(t *testing.T) {
	tests := []struct {
		state    ItemState
		expected bool
	}{
		{ItemStateStart, false},
		{ItemStateFetchingMetadata, false},
		{ItemStateValidating, false},
		{ItemStateFetchingAssets, false},
		{ItemStateReady, true},
		{ItemStateFailed, true},
	}

	for _, test := range tests {
		result := test.state.IsFinished()
		if result != test.expected {
			t.Errorf("ItemState(%s).IsFinished() = %v, expected %v", test.state, result, test.expected)
		}
	}
}

func TestItemState_CanTransition(t *testing.T) {
	tests := []struct {
		from     ItemState
		to       ItemState
		expected bool
	}{
		{ItemStateStart, ItemStateFetchingMetadata, true},
		{ItemStateStart, ItemStateReady, false},
		{ItemStateFetchingMetadata, ItemStateFailed, true},
		{ItemStateValidating, ItemStateFetchingAssets, true},
		{ItemStateValidating, ItemStateReady, false},
		{ItemStateFetchingAssets, ItemStateReady, true},
		{ItemStateReady, ItemStateFailed, false},
		{ItemStateFailed, ItemStateStart, false},
	}

	for _, test := range tests {
		result := test.from.CanTransition(test.to)
		if result != test.expected {
			t.Errorf("%s.CanTransition(%s) = %v, expected %v", test.from, test.to, result, test.expected)
		}
	}
}

func TestItemState_String(t *testing.T) {
	state := ItemStateFetchingAssets
	expected := "FetchingAssets"
	result := state.String()

	if result != expected {
		t.Errorf("ItemState.String() = %s, expected %s", result, expected)
	}
}
