package model

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"
)

// QualitySource is the label of the original upload and the top-ranked variant
const QualitySource = "Source"

// QualityPriority ranks known variant labels, lower is better.
// Labels missing from the table rank after every known label.
var QualityPriority = map[string]int{
	QualitySource: 0,
	"1080":        1,
	"720":         2,
	"540":         3,
	"480":         4,
	"360":         5,
	"preview":     6,
}

// ErrNoVariants is returned when an item has nothing to download
var ErrNoVariants = errors.New("item has no asset variants")

// Variant is one quality or mirror option for an item's asset
type Variant struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ResolvedItem is a media item populated by a single resolution
type ResolvedItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []string  `json:"tags"`
	Private     bool      `json:"private"`
	External    bool      `json:"external"` // hosted off-site, nothing to download here
	Variants    []Variant `json:"variants"`
	Description string    `json:"description"`
	State       ItemState `json:"state"`
}

// NewResolvedItem returns an empty item for id in the Start state
func NewResolvedItem(id string) *ResolvedItem {
	return &ResolvedItem{ID: id, State: ItemStateStart}
}

// Transition moves the item to the given state
func (i *ResolvedItem) Transition(to ItemState) error {
	if !i.State.CanTransition(to) {
		return fmt.Errorf("illegal item state transition %s -> %s", i.State, to)
	}
	i.State = to
	return nil
}

// Dispatchable reports whether the item may be handed to a backend
func (i *ResolvedItem) Dispatchable() bool {
	return i.State == ItemStateReady && !i.External && len(i.Variants) > 0
}

// qualityRank returns the priority of label, unranked labels sort last
func qualityRank(label string) int {
	if rank, ok := QualityPriority[label]; ok {
		return rank
	}
	return len(QualityPriority)
}

// SelectQuality returns the best ranked variant label. Ties keep manifest
// order, so unranked-only sets resolve to the first unranked label.
func (i *ResolvedItem) SelectQuality() string {
	if len(i.Variants) == 0 {
		return ""
	}

	best := i.Variants[0].Label
	bestRank := qualityRank(best)
	for _, v := range i.Variants[1:] {
		if rank := qualityRank(v.Label); rank < bestRank {
			best = v.Label
			bestRank = rank
		}
	}
	return best
}

// SelectURL picks one of the variants carrying the top label uniformly at
// random and returns its URL-decoded address.
func (i *ResolvedItem) SelectURL() (string, error) {
	quality := i.SelectQuality()
	if quality == "" {
		return "", ErrNoVariants
	}

	var candidates []string
	for _, v := range i.Variants {
		if v.Label == quality {
			candidates = append(candidates, v.URL)
		}
	}

	raw := candidates[rand.IntN(len(candidates))]
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode variant URL: %w", err)
	}
	return decoded, nil
}

// GetDisplayTitle returns title, or ID when the title is empty
func (i *ResolvedItem) GetDisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return i.ID
}
