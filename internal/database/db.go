package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the tables the engine needs when they are absent
// and seeds the default rate card on a fresh install.  Idempotent; runs
// on every boot so a blank database is enough to bring a machine up.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			mac               VARCHAR(64)  NOT NULL,
			ip                VARCHAR(64)  NOT NULL DEFAULT '',
			remaining_seconds INT          NOT NULL DEFAULT 0,
			total_paid        INT          NOT NULL DEFAULT 0,
			token             VARCHAR(128) NOT NULL DEFAULT '',
			is_paused         TINYINT(1)   NOT NULL DEFAULT 0,
			connected_at      DATETIME     NOT NULL,
			PRIMARY KEY (mac),
			KEY idx_sessions_token (token)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS rates (
			id      BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			pesos   INT NOT NULL,
			minutes INT NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY uq_rates_pesos (pesos)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS nodemcu_devices (
			id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			name         VARCHAR(100) NOT NULL DEFAULT '',
			mac_address  VARCHAR(64)  NOT NULL,
			ip_address   VARCHAR(64)  NOT NULL DEFAULT '',
			status       VARCHAR(20)  NOT NULL DEFAULT 'pending',
			auth_key     VARCHAR(128) NOT NULL DEFAULT '',
			last_seen    DATETIME     NULL,
			total_pulses INT          NOT NULL DEFAULT 0,
			total_pesos  INT          NOT NULL DEFAULT 0,
			PRIMARY KEY (id),
			UNIQUE KEY uq_nodemcu_mac (mac_address)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var rateCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rates`).Scan(&rateCount); err != nil {
		return err
	}
	if rateCount == 0 {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rates (pesos, minutes) VALUES (1, 10), (5, 60), (10, 180)`)
		if err != nil {
			return err
		}
	}
	return nil
}
