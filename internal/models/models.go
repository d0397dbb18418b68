package models

import "time"

// Presence values stored in profiles.status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Profile represents an account and its public profile fields
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	Location     *Location `json:"location,omitempty"`
	PushToken    *string   `json:"push_token,omitempty"`
	Status       string    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Location is the last reported position of a profile
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Circle represents a named group of profiles
type Circle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a profile to a circle (circles_profiles row)
type Membership struct {
	ID            string    `json:"id"`
	CircleID      string    `json:"circle_id"`
	ProfileID     string    `json:"profile_id"`
	IsAdmin       bool      `json:"is_admin"`
	ShareLocation bool      `json:"share_location"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Invitation is a short-lived code granting membership in a circle
type Invitation struct {
	ID        string    `json:"id"`
	CircleID  string    `json:"circle_id"`
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CircleSummary is a circle as seen by one of its members
type CircleSummary struct {
	Circle
	IsAdmin       bool `json:"is_admin"`
	ShareLocation bool `json:"share_location"`
	MemberCount   int  `json:"member_count"`
}

// RelatedProfile is another member of at least one of the caller's circles.
// Location is only populated when that member shares it in a common circle.
type RelatedProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Status    string    `json:"status"`
	Location  *Location `json:"location,omitempty"`
}

// PublicProfile is the subset of a profile shown to other users
type PublicProfile struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// CircleMapping lists the members of one of the caller's circles
type CircleMapping struct {
	CircleID   string   `json:"circle_id"`
	CircleName string   `json:"circle_name"`
	ProfileIDs []string `json:"profile_ids"`
}

// ProfileMapping lists the circles the caller shares with another profile
type ProfileMapping struct {
	ProfileID string   `json:"profile_id"`
	CircleIDs []string `json:"circle_ids"`
}

// PasswordReset is a pending emailed reset code
type PasswordReset struct {
	Email     string    `json:"-"`
	CodeHash  string    `json:"-"`
	Attempts  int       `json:"-"`
	ExpiresAt time.Time `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// Public strips private fields from a profile
func (p *Profile) Public() PublicProfile {
	return PublicProfile{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		AvatarURL: p.AvatarURL,
	}
}
