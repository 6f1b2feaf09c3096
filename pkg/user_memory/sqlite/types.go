// Package sqlite provides SQLite implementation for user profile storage.
//
// The row and option types here duplicate their usermemory counterparts
// so the store has no import cycle with the package that consumes it; the
// adapter in usermemory maps between the two.
package sqlite

import "time"

// UserProfile is one row of the profiles table.
type UserProfile struct {
	// ID is the profile row id.
	ID int64 `json:"id"`

	// UserID is the user the profile describes.
	UserID string `json:"user_id"`

	// ProfileContent is the prose summary of the user.
	ProfileContent string `json:"profile_content,omitempty"`

	// Topics maps topic names to values, stored as a JSON column.
	Topics map[string]interface{} `json:"topics,omitempty"`

	// CreatedAt is when the row was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the row was last rewritten.
	UpdatedAt time.Time `json:"updated_at"`
}

// GetProfilesOptions filters and paginates profile listings.
type GetProfilesOptions struct {
	// UserID restricts the listing to one user.
	UserID string

	// MainTopic keeps rows whose topics JSON contains any of these keys.
	MainTopic []string

	// SubTopic keeps rows with any of these second-level topic keys.
	SubTopic []string

	// TopicValue keeps rows with any of these topic values.
	TopicValue []string

	// Limit caps the number of rows returned.
	Limit int

	// Offset skips that many rows, for pagination.
	Offset int
}
