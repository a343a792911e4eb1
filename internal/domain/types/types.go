// Package types contains common types used across the application
package types

// Entry represents a leaderboard row.
type Entry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
}
