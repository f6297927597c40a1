package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"laneassist/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured relational database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch normalizeDriver(dbType) {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would get its own empty database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if !strings.Contains(params, "parseTime") {
				params = strings.TrimPrefix(params+"&parseTime=true", "&")
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "pgx":
		dsn := dbCfg.DSN
		if dsn == "" {
			u := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(dbCfg.Username, dbCfg.Password),
				Host:     dbCfg.Host + ":" + strconv.Itoa(dbCfg.Port),
				Path:     "/" + dbCfg.DBName,
				RawQuery: dbCfg.Params,
			}
			dsn = u.String()
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "mysql":
		return "mysql"
	case "postgres", "postgresql", "pgx":
		return "pgx"
	}
	return strings.ToLower(driver)
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS customers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				phone_number TEXT NOT NULL UNIQUE,
				business_id TEXT NOT NULL DEFAULT '',
				dropoff_location TEXT NOT NULL DEFAULT '',
				repeat_customer INTEGER NOT NULL DEFAULT 0,
				segment TEXT NOT NULL DEFAULT 'consumer'
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				quote_id TEXT PRIMARY KEY,
				customer_id TEXT NOT NULL,
				customer_contact TEXT NOT NULL,
				garage_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				location TEXT NOT NULL,
				items TEXT NOT NULL,
				subtotal TEXT NOT NULL,
				discount_rate TEXT NOT NULL,
				discount TEXT NOT NULL,
				total TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				payment_status TEXT NOT NULL,
				payment_date DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_contact ON orders(customer_contact, created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS customers (
				id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				phone_number VARCHAR(32) NOT NULL,
				business_id VARCHAR(64) NOT NULL DEFAULT '',
				dropoff_location VARCHAR(255) NOT NULL DEFAULT '',
				repeat_customer TINYINT(1) NOT NULL DEFAULT 0,
				segment VARCHAR(16) NOT NULL DEFAULT 'consumer',
				PRIMARY KEY (id),
				UNIQUE KEY uniq_customers_phone (phone_number)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS orders (
				quote_id VARCHAR(64) NOT NULL,
				customer_id VARCHAR(64) NOT NULL,
				customer_contact VARCHAR(32) NOT NULL,
				garage_id VARCHAR(64) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				location VARCHAR(255) NOT NULL,
				items MEDIUMTEXT NOT NULL,
				subtotal VARCHAR(32) NOT NULL,
				discount_rate VARCHAR(16) NOT NULL,
				discount VARCHAR(32) NOT NULL,
				total VARCHAR(32) NOT NULL,
				created_at DATETIME NOT NULL,
				payment_status VARCHAR(16) NOT NULL,
				payment_date DATETIME NOT NULL,
				PRIMARY KEY (quote_id),
				INDEX idx_orders_customer (customer_id, created_at),
				INDEX idx_orders_contact (customer_contact, created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "pgx":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS customers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				phone_number TEXT NOT NULL UNIQUE,
				business_id TEXT NOT NULL DEFAULT '',
				dropoff_location TEXT NOT NULL DEFAULT '',
				repeat_customer BOOLEAN NOT NULL DEFAULT FALSE,
				segment TEXT NOT NULL DEFAULT 'consumer'
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				quote_id TEXT PRIMARY KEY,
				customer_id TEXT NOT NULL,
				customer_contact TEXT NOT NULL,
				garage_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				location TEXT NOT NULL,
				items TEXT NOT NULL,
				subtotal TEXT NOT NULL,
				discount_rate TEXT NOT NULL,
				discount TEXT NOT NULL,
				total TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				payment_status TEXT NOT NULL,
				payment_date TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_contact ON orders(customer_contact, created_at DESC)`,
		}
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
