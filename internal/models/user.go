package models

import "time"

// User is a durable user record owned by the external registration service.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}
