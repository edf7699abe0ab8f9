package models

import "time"

// Role is the classroom role a participant holds.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	// RoleSystem is only used as the sender role of synthesized chat notices.
	RoleSystem Role = "system"
)

// Valid reports whether r is a role a participant may join with.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// IdentityKind tells whether a participant is backed by a durable user record.
type IdentityKind string

const (
	IdentityDurable   IdentityKind = "durable"
	IdentityEphemeral IdentityKind = "ephemeral"
)

// Identity is what a connection claims when it joins.
type Identity struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Role        Role         `json:"role"`
	Kind        IdentityKind `json:"kind"`
}

// Participant is one live, identified connection.
type Participant struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName"`
	Role         Role         `json:"role"`
	Kind         IdentityKind `json:"kind"`
	ConnectionID string       `json:"connectionId"`
	JoinedAt     time.Time    `json:"joinedAt"`
}

// IsTeacher reports whether the participant moderates the session.
func (p Participant) IsTeacher() bool { return p.Role == RoleTeacher }

// IsEphemeral reports whether the participant has no durable user record.
func (p Participant) IsEphemeral() bool { return p.Kind != IdentityDurable }
