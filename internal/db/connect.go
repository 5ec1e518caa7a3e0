// Package db opens gorm connections and migrates the routeops schema.
package db

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a MySQL DSN with parseTime enabled and UTC locations.
func MySQLDSN(c config.DatabaseConfig) string {
	mc := mysqldrv.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

// PostgresDSN builds a key/value Postgres DSN.
func PostgresDSN(c config.DatabaseConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.Host, c.Port, c.User, c.Name)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = MySQLDSN(c)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := c.DSN
		if dsn == "" {
			dsn = PostgresDSN(c)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Connect opens a GORM connection for the configured driver.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", c.Driver, err)
	}
	if c.Driver == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY
		// and keeps :memory: databases on one handle.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}
