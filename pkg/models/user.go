package models

// Tier is the billing plan of a user
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// InitialCredits is granted to every user on first sync
const InitialCredits = 100

// User is a workflow owner, keyed by the identity provider subject
type User struct {
	ID      string  `json:"id"`
	Email   string  `json:"email"`
	Name    string  `json:"name,omitempty"`
	Credits float64 `json:"credits"`
	Tier    Tier    `json:"tier"`
}
