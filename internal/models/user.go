package models

import "time"

type User struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(128);not null" json:"-"`
	Avatar       string     `gorm:"type:varchar(255)" json:"avatar"`
	IsOnline     bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeen     *time.Time `json:"last_seen"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Profile is the minimal view of a user embedded in message payloads
// and directory listings.
type Profile struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
