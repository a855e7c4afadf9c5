// Package db opens the gorm store and keeps the schema current.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/lumochat/chat-engine/internal/chat"
)

// Connect opens the configured database and migrates the chat schema.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(
		&chat.Chat{},
		&chat.Message{},
		&chat.Prompt{},
		&chat.PromptMessage{},
		&chat.Provider{},
		&chat.ModelEntity{},
		&chat.TurnJob{},
	); err != nil {
		return nil, err
	}
	return gdb, nil
}
