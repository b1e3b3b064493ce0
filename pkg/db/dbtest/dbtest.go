// Package dbtest opens throwaway in-memory databases carrying the billing schema.
package dbtest

import (
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		admin_email TEXT NOT NULL,
		seat_limit INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME,
		deactivated_at DATETIME
	)`,
	`CREATE TABLE service_packages (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		monthly_fee INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE contracts (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL UNIQUE,
		plan_id TEXT NOT NULL,
		base_fee INTEGER NOT NULL,
		seat_limit INTEGER NOT NULL,
		billing_day INTEGER NOT NULL,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		billing_anchor_month INTEGER NOT NULL DEFAULT 1,
		setup_fee INTEGER NOT NULL DEFAULT 0,
		first_month_discount INTEGER NOT NULL DEFAULT 0,
		prorate_first_invoice BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		pending_plan_change JSON,
		plan_change_requested_at DATETIME,
		plan_change_effective_date DATETIME,
		current_period_start DATETIME,
		activated_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE contract_packages (
		contract_id INTEGER NOT NULL,
		package_id INTEGER NOT NULL,
		created_at DATETIME,
		PRIMARY KEY (contract_id, package_id)
	)`,
	`CREATE TABLE grace_periods (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		contract_id INTEGER NOT NULL,
		effective_date DATETIME NOT NULL,
		deadline DATETIME NOT NULL,
		seat_limit INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		resolution TEXT,
		exempted_by TEXT,
		resolved_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (org_id, effective_date)
	)`,
	`CREATE UNIQUE INDEX uq_grace_periods_open_org ON grace_periods (org_id) WHERE status IN ('pending', 'expired')`,
	`CREATE TABLE inbound_events (
		id INTEGER PRIMARY KEY,
		gateway_event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		payload JSON NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT 0,
		processed_at DATETIME,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		claimed_at DATETIME,
		received_at DATETIME
	)`,
	`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		org_id INTEGER,
		contract_id INTEGER,
		gateway_invoice_id TEXT NOT NULL UNIQUE,
		number TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		tax INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'JPY',
		due_date DATETIME,
		status TEXT NOT NULL DEFAULT 'draft',
		is_first BOOLEAN NOT NULL DEFAULT 0,
		document_key TEXT,
		paid_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE invoice_lines (
		invoice_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (invoice_id, position)
	)`,
	`CREATE TABLE payment_records (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		gateway_payment_id TEXT NOT NULL UNIQUE,
		amount INTEGER NOT NULL,
		paid_at DATETIME NOT NULL,
		receipt_key TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE billing_schedules (
		id INTEGER PRIMARY KEY,
		contract_id INTEGER NOT NULL UNIQUE,
		gateway_subscription_id TEXT,
		next_billing_date DATETIME,
		period_end_observed_at DATETIME,
		active BOOLEAN NOT NULL DEFAULT 1,
		canceled_at DATETIME,
		canceled_subscription_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE notification_deliveries (
		id INTEGER PRIMARY KEY,
		dedupe_key TEXT NOT NULL UNIQUE,
		org_id INTEGER,
		template TEXT NOT NULL,
		recipient TEXT NOT NULL,
		fields JSON,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE integrity_alerts (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		details JSON,
		dedupe_key TEXT NOT NULL UNIQUE,
		created_at DATETIME
	)`,
}

// Open returns an in-memory sqlite database with the billing tables created.
// A single connection is used so every statement sees the same memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocking); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocking); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for test fixtures.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
