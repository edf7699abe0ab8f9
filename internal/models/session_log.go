package models

import "time"

// AttendanceLog tracks join/leave and watch duration per durable participant.
type AttendanceLog struct {
	ID            int64      `json:"id"`
	ParticipantID string     `json:"participantId"`
	DisplayName   string     `json:"displayName"`
	Role          Role       `json:"role"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
	WatchSeconds  int64      `json:"watchSeconds"`
}
