package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	return nil
}

// Migrate applies the schema to db. Split out of Init so tests can run it
// against their own in-memory databases.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Server{}, &Grant{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// User helpers

func GetUserByUsername(db *gorm.DB, username string) (*User, error) {
	var u User
	if err := db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(db *gorm.DB, id uint) (*User, error) {
	var u User
	if err := db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(db *gorm.DB, user *User) error {
	return db.Create(user).Error
}

func DeleteUser(db *gorm.DB, id uint) error {
	db.Where("user_id = ?", id).Delete(&Grant{})
	return db.Delete(&User{}, id).Error
}

func UpdateUserPassword(db *gorm.DB, id uint, hash string) error {
	return db.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func ListUsers(db *gorm.DB) ([]User, error) {
	var users []User
	if err := db.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func GetFirstAdmin(db *gorm.DB) (*User, error) {
	var u User
	if err := db.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Server helpers

func GetServer(db *gorm.DB, id uint) (*Server, error) {
	var s Server
	if err := db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListServersForUser returns servers the user owns or holds a grant on.
// System admins see everything.
func ListServersForUser(db *gorm.DB, user *User) ([]Server, error) {
	var servers []Server
	q := db.Order("id")
	if user.Role != "admin" {
		q = q.Where("owner_id = ? OR id IN (?)", user.ID,
			db.Model(&Grant{}).Select("server_id").Where("user_id = ?", user.ID))
	}
	if err := q.Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func CreateServer(db *gorm.DB, server *Server) error {
	return db.Create(server).Error
}

func DeleteServer(db *gorm.DB, id uint) error {
	db.Where("server_id = ?", id).Delete(&Grant{})
	return db.Delete(&Server{}, id).Error
}

// Grant helpers

func GetGrant(db *gorm.DB, serverID, userID uint) (*Grant, error) {
	var g Grant
	if err := db.Where("server_id = ? AND user_id = ?", serverID, userID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func UpsertGrant(db *gorm.DB, serverID, userID uint, level string) error {
	return db.Where("server_id = ? AND user_id = ?", serverID, userID).
		Assign(Grant{Level: level}).
		FirstOrCreate(&Grant{ServerID: serverID, UserID: userID}).Error
}

func DeleteGrant(db *gorm.DB, serverID, userID uint) error {
	return db.Where("server_id = ? AND user_id = ?", serverID, userID).Delete(&Grant{}).Error
}

func ListGrants(db *gorm.DB, serverID uint) ([]Grant, error) {
	var grants []Grant
	if err := db.Where("server_id = ?", serverID).Order("user_id").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}
