package auth

import "time"

// Subject represents an authenticated caller. Subjects are created
// lazily the first time an identity is seen on a request; there is no
// user provisioning API.
type Subject struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the raw caller identity extracted from a request, before
// it has been resolved to a stored Subject.
type Identity struct {
	Username string
	Email    string
}
