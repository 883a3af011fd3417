// Package repobun provides a SQL-backed repokit.Repository built on Bun
package repobun

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/repokit"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// =====================================
// Database Connection
// =====================================

// OpenDB opens a Bun database handle for the configured driver.
// Supported drivers: postgres, mysql, sqlite.
func OpenDB(config repokit.Config) (*bun.DB, error) {
	var sqlDB *sql.DB
	var err error

	driver := strings.ToLower(config.Driver)
	switch driver {
	case "postgres", "postgresql":
		sqlDB, err = openPostgres(config)
	case "mysql":
		sqlDB, err = openMySQL(config)
	case "sqlite", "sqlite3":
		sqlDB, err = sql.Open("sqlite3", config.Database)
	default:
		return nil, repokit.NewError(repokit.ErrorTypeUnsupported,
			fmt.Sprintf("unsupported driver: %s", config.Driver))
	}
	if err != nil {
		return nil, repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "failed to connect to database", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	var db *bun.DB
	switch driver {
	case "postgres", "postgresql":
		db = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		db = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if logLevel, ok := config.Options["log_queries"].(string); ok && logLevel != "silent" {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(logLevel == "debug"),
		))
	}
	return db, nil
}

func openPostgres(config repokit.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(config.ConnectionURL))), nil
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		config.Username, config.Password, config.Host, config.Port, config.Database)
	return sql.Open("postgres", dsn)
}

func openMySQL(config repokit.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.Open("mysql", config.ConnectionURL)
	}
	mysqlConfig := mysql.Config{
		User:   config.Username,
		Passwd: config.Password,
		Net:    "tcp",
		Addr:   fmt.Sprintf("%s:%d", config.Host, config.Port),
		DBName: config.Database,
	}
	return sql.Open("mysql", mysqlConfig.FormatDSN())
}
