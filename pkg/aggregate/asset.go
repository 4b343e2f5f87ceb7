package aggregate

import "github.com/Covenant-Labs/covenant/core/pkg/events"

// AssetStatus is the lifecycle state of an asset.
type AssetStatus string

const (
	AssetActive  AssetStatus = "Active"
	AssetRetired AssetStatus = "Retired"
)

// Asset is the folded state of an Asset aggregate.
type Asset struct {
	ID            string                 `json:"id"`
	AssetType     string                 `json:"assetType"`
	OwnerID       string                 `json:"ownerId,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Quantity      float64                `json:"quantity,omitempty"`
	HasQuantity   bool                   `json:"hasQuantity,omitempty"`
	EstablishedBy string                 `json:"establishedBy,omitempty"`
	Status        AssetStatus            `json:"status"`
	Version       uint64                 `json:"version"`
}

// NewAsset returns the initial state for id.
func NewAsset(id string) *Asset {
	return &Asset{ID: id}
}

// Apply folds one event into the asset state.
func (a *Asset) Apply(e *events.Event) {
	switch e.Type {
	case events.TypeAssetRegistered:
		a.AssetType = payloadString(e.Payload, "assetType")
		a.OwnerID = payloadString(e.Payload, "ownerId")
		a.Properties = payloadMap(e.Payload, "properties")
		if q, ok := payloadFloat(e.Payload, "quantity"); ok {
			a.Quantity = q
			a.HasQuantity = true
		}
		a.EstablishedBy = payloadString(e.Payload, "establishedBy")
		a.Status = AssetActive
	case events.TypeAssetTransferred:
		a.OwnerID = payloadString(e.Payload, "ownerId")
	case events.TypeAssetRetired:
		a.Status = AssetRetired
	}
	a.Version = e.AggregateVersion
}

// Exists reports whether a registration event has been applied.
func (a *Asset) Exists() bool { return a.Version > 0 && a.AssetType != "" }

// FoldAsset rehydrates an asset from its events in version order.
func FoldAsset(id string, evs []*events.Event) *Asset {
	a := NewAsset(id)
	for _, e := range evs {
		a.Apply(e)
	}
	return a
}
