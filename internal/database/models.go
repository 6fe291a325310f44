package database

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Server is a remote host the system can open a shell on. The private key
// is stored as a fernet token and decrypted just-in-time on connect.
type Server struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string    `gorm:"not null" json:"name"`
	Address             string    `gorm:"not null" json:"address"`
	Port                int       `gorm:"not null;default:22" json:"port"`
	Username            string    `gorm:"not null" json:"username"`
	EncryptedPrivateKey string    `gorm:"type:text" json:"-"`
	OwnerID             uint      `gorm:"not null;index" json:"owner_id"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Grant gives a non-owner user a bounded permission level on a server.
// Ownership and the system admin role are implicit admin and are never
// stored as grant rows, so grant levels only go up to "execute".
type Grant struct {
	ServerID  uint      `gorm:"primaryKey" json:"server_id"`
	UserID    uint      `gorm:"primaryKey" json:"user_id"`
	Level     string    `gorm:"not null;default:read" json:"level"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
