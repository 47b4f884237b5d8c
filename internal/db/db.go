package db

import (
	"log"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}

// Migrate creates or updates the schema for every persisted model.
func Migrate(gdb *gorm.DB) {
	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Conversation{},
		&chat.Message{},
	); err != nil {
		log.Fatalf("automigrate: %v", err)
	}
}
