package models

import (
	"time"
)

// Tenant is the top-level scoping entity. Every flow record belongs to
// exactly one tenant; callers never see flows outside their own.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is the engagement-level scoping key under a tenant. A tenant may
// run discovery for several clients; flow queries are scoped by both.
type Client struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
