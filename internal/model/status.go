package model

// ItemState represents where an item is in the resolution state machine
type ItemState string

const (
	// ItemStateStart means the item has been created but nothing was fetched yet
	ItemStateStart ItemState = "Start"

	// ItemStateFetchingMetadata means the signed metadata request is in flight
	ItemStateFetchingMetadata ItemState = "FetchingMetadata"

	// ItemStateValidating means metadata arrived and is being checked
	ItemStateValidating ItemState = "Validating"

	// ItemStateFetchingAssets means the asset manifest request is in flight
	ItemStateFetchingAssets ItemState = "FetchingAssets"

	// ItemStateReady means the item has usable variants
	ItemStateReady ItemState = "Ready"

	// ItemStateFailed means resolution stopped with an error
	ItemStateFailed ItemState = "Failed"
)

// String returns the string representation of ItemState
func (s ItemState) String() string {
	return string(s)
}

// IsActive returns true while a resolution request is in flight
func (s ItemState) IsActive() bool {
	return s == ItemStateFetchingMetadata || s == ItemStateValidating || s == ItemStateFetchingAssets
}

// IsFinished returns true if the item reached a terminal state (ready or failed)
func (s ItemState) IsFinished() bool {
	return s == ItemStateReady || s == ItemStateFailed
}

// next lists the legal successors of every state.
var next = map[ItemState][]ItemState{
	ItemStateStart:            {ItemStateFetchingMetadata},
	ItemStateFetchingMetadata: {ItemStateValidating, ItemStateFailed},
	ItemStateValidating:       {ItemStateFetchingAssets, ItemStateFailed},
	ItemStateFetchingAssets:   {ItemStateReady, ItemStateFailed},
}

// CanTransition reports whether moving from s to to is a legal transition
func (s ItemState) CanTransition(to ItemState) bool {
	for _, candidate := range next[s] {
		if candidate == to {
			return true
		}
	}
	return false
}
