package models

// Identity is the authenticated user behind a connection or request.
type Identity struct {
	UserID   int64 `json:"user_id"`
	IsStaff  bool  `json:"is_staff"`
	IsActive bool  `json:"is_active"`
}
