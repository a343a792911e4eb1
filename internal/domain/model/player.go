package model

import "time"

// Player is a party participant. Points change only through the ledger.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
}

// Prediction is a player's stated guess for an outcome key.
type Prediction struct {
	PlayerID string     `json:"player_id"`
	Key      OutcomeKey `json:"key"`
	Value    string     `json:"value"`
	PlacedAt time.Time  `json:"placed_at"`
}
