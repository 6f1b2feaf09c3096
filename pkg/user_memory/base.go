// Package usermemory provides user memory management with automatic profile extraction.
package usermemory

import (
	"context"
	"time"
)

// UserProfile is the persisted view of what the system knows about a user.
//
// Two representations coexist: ProfileContent holds a prose summary,
// Topics holds flat key/value characteristics. Either may be empty; Add
// maintains whichever one the caller's ProfileType selects.
type UserProfile struct {
	// ID is the profile row id.
	ID int64 `json:"id"`

	// UserID is the user the profile describes.
	UserID string `json:"user_id"`

	// ProfileContent is the prose summary, maintained by LLM extraction.
	ProfileContent string `json:"profile_content,omitempty"`

	// Topics maps topic names to values, e.g.
	// {"occupation": "software engineer", "interests": ["chess", "hiking"]}.
	Topics map[string]interface{} `json:"topics,omitempty"`

	// CreatedAt is when the profile row was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the profile was last rewritten.
	UpdatedAt time.Time `json:"updated_at"`
}

// GetProfilesOptions filters and paginates profile listings.
type GetProfilesOptions struct {
	// UserID restricts the listing to one user.
	UserID string

	// MainTopic keeps profiles whose Topics contain any of these keys.
	MainTopic []string

	// SubTopic keeps profiles with any of these second-level topic keys.
	SubTopic []string

	// TopicValue keeps profiles with any of these topic values.
	TopicValue []string

	// Limit caps the number of profiles returned.
	Limit int

	// Offset skips that many profiles, for pagination.
	Offset int
}

// UserProfileStore persists user profiles. Implementations back the
// interface with different databases; sqlite is the bundled one.
type UserProfileStore interface {
	// SaveProfile upserts the profile for userID. A nil profileContent or
	// topics leaves that representation untouched on update. Returns the
	// profile row id.
	SaveProfile(ctx context.Context, userID string, profileContent *string, topics map[string]interface{}) (int64, error)

	// GetProfileByUserID returns the user's profile, or nil when the user
	// has none.
	GetProfileByUserID(ctx context.Context, userID string) (*UserProfile, error)

	// GetProfiles lists profiles matching opts, newest-updated first.
	GetProfiles(ctx context.Context, opts *GetProfilesOptions) ([]*UserProfile, error)

	// DeleteProfile removes a profile by row id.
	DeleteProfile(ctx context.Context, profileID int64) error

	// Close releases the store's resources.
	Close() error
}
