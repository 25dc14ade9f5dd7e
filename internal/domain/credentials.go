package domain

import "time"

// APIKey identifies a tenant calling the payment API.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Key        string     `json:"-"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Till is a tenant's own merchant account. At most one per owner is default and active.
type Till struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	TillNumber     string `json:"till_number"`
	ShortCode      string `json:"shortcode"`
	Passkey        string `json:"-"`
	ConsumerKey    string `json:"-"`
	ConsumerSecret string `json:"-"`
	IsDefault      bool   `json:"is_default"`
	IsActive       bool   `json:"is_active"`
}
