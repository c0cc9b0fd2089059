package database

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewMySQLConnection opens a gorm handle over MySQL.
func NewMySQLConnection(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}
