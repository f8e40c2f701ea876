package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	// 纯 Go 的 SQLite 驱动，测试与本地演示无需 CGO
	_ "modernc.org/sqlite"
)

// sqliteSchema 与 migrations/ 下的 MySQL 结构保持一致
const sqliteSchema = `
CREATE TABLE dealers (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    code            TEXT     NOT NULL UNIQUE,
    name            TEXT     NOT NULL,
    address         TEXT     NOT NULL DEFAULT '',
    phone           TEXT     NOT NULL DEFAULT '',
    email           TEXT     NOT NULL DEFAULT '',
    contract_number TEXT     NOT NULL DEFAULT '',
    contract_start  DATETIME NULL,
    contract_end    DATETIME NULL,
    credit_limit    INTEGER  NOT NULL DEFAULT 0,
    current_debt    INTEGER  NOT NULL DEFAULT 0,
    status          TEXT     NOT NULL DEFAULT 'active',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    deleted_at      DATETIME NULL
);

CREATE TABLE products (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT     NOT NULL,
    model       TEXT     NOT NULL,
    description TEXT     NOT NULL,
    status      TEXT     NOT NULL DEFAULT 'active',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    deleted_at  DATETIME NULL
);

CREATE TABLE product_variants (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id      INTEGER  NOT NULL REFERENCES products (id),
    variant_index   INTEGER  NOT NULL,
    variant_hash    TEXT     NOT NULL,
    attribute_value TEXT     NOT NULL,
    price           INTEGER  NOT NULL DEFAULT 0,
    stock           INTEGER  NOT NULL DEFAULT 0 CHECK (stock >= 0),
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    UNIQUE (product_id, variant_hash),
    UNIQUE (product_id, variant_index)
);

CREATE TABLE dealer_allocations (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    dealer_id          INTEGER  NOT NULL REFERENCES dealers (id),
    product_id         INTEGER  NOT NULL REFERENCES products (id),
    variant_index      INTEGER  NOT NULL,
    variant_hash       TEXT     NOT NULL,
    quantity           INTEGER  NOT NULL,
    allocated_quantity INTEGER  NOT NULL DEFAULT 0,
    status             TEXT     NOT NULL,
    notes              TEXT     NOT NULL DEFAULT '',
    allocated_at       DATETIME NULL,
    shipped_at         DATETIME NULL,
    delivered_at       DATETIME NULL,
    created_by         INTEGER  NOT NULL DEFAULT 0,
    version            INTEGER  NOT NULL DEFAULT 1,
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL,
    deleted_at         DATETIME NULL
);

CREATE TABLE allocation_vins (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    allocation_id INTEGER  NOT NULL REFERENCES dealer_allocations (id),
    position      INTEGER  NOT NULL,
    vin           TEXT     NOT NULL UNIQUE,
    created_by    INTEGER  NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    UNIQUE (allocation_id, position)
);

CREATE TABLE dealer_inventories (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    dealer_id      INTEGER  NOT NULL REFERENCES dealers (id),
    product_id     INTEGER  NOT NULL,
    variant_index  INTEGER  NOT NULL,
    variant_hash   TEXT     NOT NULL,
    stock          INTEGER  NOT NULL DEFAULT 0,
    reserved_stock INTEGER  NOT NULL DEFAULT 0,
    version        INTEGER  NOT NULL DEFAULT 1,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL,
    UNIQUE (dealer_id, product_id, variant_hash),
    CHECK (reserved_stock >= 0 AND reserved_stock <= stock)
);

CREATE TABLE allocation_requests (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    code           TEXT     NOT NULL UNIQUE,
    dealer_id      INTEGER  NOT NULL REFERENCES dealers (id),
    total_quantity INTEGER  NOT NULL DEFAULT 0,
    status         TEXT     NOT NULL,
    notes          TEXT     NOT NULL DEFAULT '',
    reject_reason  TEXT     NOT NULL DEFAULT '',
    allocation_ids TEXT     NOT NULL,
    created_by     INTEGER  NOT NULL DEFAULT 0,
    version        INTEGER  NOT NULL DEFAULT 1,
    submitted_at   DATETIME NULL,
    decided_at     DATETIME NULL,
    completed_at   DATETIME NULL,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL,
    deleted_at     DATETIME NULL
);

CREATE TABLE allocation_request_items (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id    INTEGER NOT NULL REFERENCES allocation_requests (id),
    product_id    INTEGER NOT NULL,
    variant_index INTEGER NOT NULL,
    variant_hash  TEXT    NOT NULL,
    quantity      INTEGER NOT NULL
);

CREATE TABLE orders (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    code           TEXT     NOT NULL UNIQUE,
    dealer_id      INTEGER  NOT NULL REFERENCES dealers (id),
    customer_name  TEXT     NOT NULL,
    customer_phone TEXT     NOT NULL DEFAULT '',
    customer_email TEXT     NOT NULL DEFAULT '',
    subtotal       INTEGER  NOT NULL DEFAULT 0,
    discount_total INTEGER  NOT NULL DEFAULT 0,
    total_amount   INTEGER  NOT NULL DEFAULT 0,
    status         TEXT     NOT NULL,
    notes          TEXT     NOT NULL DEFAULT '',
    created_by     INTEGER  NOT NULL DEFAULT 0,
    version        INTEGER  NOT NULL DEFAULT 1,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL,
    deleted_at     DATETIME NULL
);

CREATE TABLE order_items (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id         INTEGER NOT NULL REFERENCES orders (id),
    product_id       INTEGER NOT NULL,
    variant_index    INTEGER NOT NULL,
    variant_hash     TEXT    NOT NULL,
    quantity         INTEGER NOT NULL,
    unit_price       INTEGER NOT NULL,
    discount         INTEGER NOT NULL DEFAULT 0,
    total_price      INTEGER NOT NULL,
    product_snapshot TEXT    NOT NULL
);

CREATE TABLE order_status_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id   INTEGER  NOT NULL REFERENCES orders (id),
    status     TEXT     NOT NULL,
    actor      INTEGER  NOT NULL DEFAULT 0,
    notes      TEXT     NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE TABLE dealer_prices (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    dealer_id    INTEGER  NOT NULL,
    product_id   INTEGER  NOT NULL,
    variant_hash TEXT     NOT NULL,
    price        INTEGER  NOT NULL,
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL,
    UNIQUE (dealer_id, product_id, variant_hash)
);

CREATE TABLE dealer_discounts (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    dealer_id      INTEGER  NOT NULL,
    name           TEXT     NOT NULL,
    discount_type  TEXT     NOT NULL,
    discount_value TEXT     NOT NULL,
    start_at       DATETIME NULL,
    end_at         DATETIME NULL,
    active         INTEGER  NOT NULL DEFAULT 1,
    created_at     DATETIME NOT NULL
);

CREATE TABLE promotions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    name           TEXT     NOT NULL,
    product_id     INTEGER  NULL,
    discount_type  TEXT     NOT NULL,
    discount_value TEXT     NOT NULL,
    start_at       DATETIME NULL,
    end_at         DATETIME NULL,
    status         TEXT     NOT NULL DEFAULT 'active',
    created_at     DATETIME NOT NULL
);
`

// OpenSQLite 打开 SQLite 数据库并建表，用于测试与本地演示。
// 内存库每个连接各自独立，因此连接池固定为 1。
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

// NewTestDB 创建内存 SQLite 数据库，测试结束时自动关闭
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
