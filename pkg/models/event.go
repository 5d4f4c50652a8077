package models

import "time"

type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionUnknown Action = "unknown"
)

func ParseAction(s string) Action {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s)
	default:
		return ActionUnknown
	}
}

// SeismicEvent is the canonical shape of one feed notification.
// Numeric fields are nil when the feed omitted them or sent a non-number.
type SeismicEvent struct {
	Action      Action    `json:"action"`
	UNID        string    `json:"unid"`
	OccurredAt  time.Time `json:"occurred_at"`
	Magnitude   *float64  `json:"magnitude"`
	RegionLabel string    `json:"region_label"`
	Longitude   *float64  `json:"longitude"`
	Latitude    *float64  `json:"latitude"`
	DepthKm     *float64  `json:"depth_km"`
}
