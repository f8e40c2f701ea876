package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// DealerInventoryRepository 定义经销商库存数据访问接口。
// 计数器变更均为单条带条件的 UPDATE，不满足条件时不修改任何行。
type DealerInventoryRepository interface {
	Get(ctx context.Context, dealerID int64, key domain.VariantKey) (*domain.DealerInventory, error)
	List(ctx context.Context, req *domain.DealerInventoryListRequest) ([]*domain.DealerInventory, int64, error)

	// CreditDelivered 到店入库，行不存在时创建
	CreditDelivered(ctx context.Context, dealerID int64, key domain.VariantKey, variantIndex int, quantity int) error
	// DebitDelivered 撤销到店，最低到 0，且不得低于已预留数量
	DebitDelivered(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error

	ReserveStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error
	ReleaseStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error
	ConsumeStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error
}

type dealerInventoryRepo struct {
	db *sql.DB
}

// NewDealerInventoryRepository 创建经销商库存仓储实例
func NewDealerInventoryRepository(db *sql.DB) DealerInventoryRepository {
	return &dealerInventoryRepo{db: db}
}

const dealerInventoryColumns = `id, dealer_id, product_id, variant_index, variant_hash, stock, reserved_stock,
	version, created_at, updated_at`

// Get 获取某经销商某变体的库存行
func (r *dealerInventoryRepo) Get(ctx context.Context, dealerID int64, key domain.VariantKey) (*domain.DealerInventory, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+dealerInventoryColumns+` FROM dealer_inventories
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?`,
		dealerID, key.ProductID, key.VariantHash)

	inv, err := scanDealerInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer inventory: %w", err)
	}
	return inv, nil
}

// List 获取经销商库存列表
func (r *dealerInventoryRepo) List(ctx context.Context, req *domain.DealerInventoryListRequest) ([]*domain.DealerInventory, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)

	var conditions []string
	var args []any
	if req.DealerID != nil {
		conditions = append(conditions, "dealer_id = ?")
		args = append(args, *req.DealerID)
	}
	if req.ProductID != nil {
		conditions = append(conditions, "product_id = ?")
		args = append(args, *req.ProductID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dealer_inventories "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dealer inventories: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+dealerInventoryColumns+` FROM dealer_inventories `+where+`
		ORDER BY dealer_id ASC, product_id ASC, variant_index ASC LIMIT ? OFFSET ?`,
		append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dealer inventories: %w", err)
	}
	defer rows.Close()

	var list []*domain.DealerInventory
	for rows.Next() {
		inv, err := scanDealerInventory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan dealer inventory: %w", err)
		}
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate dealer inventories: %w", err)
	}
	return list, total, nil
}

// CreditDelivered 先尝试累加，行不存在再插入；并发插入撞唯一键时回到累加
func (r *dealerInventoryRepo) CreditDelivered(ctx context.Context, dealerID int64, key domain.VariantKey, variantIndex int, quantity int) error {
	conn := database.Conn(ctx, r.db)

	credit := func() (bool, error) {
		result, err := conn.ExecContext(ctx, `
			UPDATE dealer_inventories
			SET stock = stock + ?, version = version + 1, updated_at = ?
			WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?
		`, quantity, time.Now().UTC(), dealerID, key.ProductID, key.VariantHash)
		if err != nil {
			return false, fmt.Errorf("failed to credit dealer inventory: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		return affected > 0, nil
	}

	ok, err := credit()
	if err != nil || ok {
		return err
	}

	now := time.Now().UTC()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO dealer_inventories (dealer_id, product_id, variant_index, variant_hash, stock, reserved_stock, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?)
	`, dealerID, key.ProductID, variantIndex, key.VariantHash, quantity, now, now)
	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return fmt.Errorf("failed to create dealer inventory: %w", err)
	}

	if ok, err = credit(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: dealer inventory row for %s vanished during credit", domain.ErrConflict, key)
	}
	return nil
}

// DebitDelivered 撤销到店入库
func (r *dealerInventoryRepo) DebitDelivered(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error {
	conn := database.Conn(ctx, r.db)
	result, err := conn.ExecContext(ctx, `
		UPDATE dealer_inventories
		SET stock = CASE WHEN stock >= ? THEN stock - ? ELSE 0 END, version = version + 1, updated_at = ?
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?
		  AND reserved_stock <= CASE WHEN stock >= ? THEN stock - ? ELSE 0 END
	`, quantity, quantity, time.Now().UTC(), dealerID, key.ProductID, key.VariantHash, quantity, quantity)
	if err != nil {
		return fmt.Errorf("failed to debit dealer inventory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// 区分"行不存在"（无需处理）与"预留数量不允许回退"
	inv, err := r.Get(ctx, dealerID, key)
	if err != nil {
		return err
	}
	if inv == nil {
		return nil
	}
	return fmt.Errorf("%w: dealer %d has %d units reserved for %s, cannot remove %d of %d",
		domain.ErrInsufficientStock, dealerID, inv.ReservedStock, key, quantity, inv.Stock)
}

// ReserveStock 预留库存
func (r *dealerInventoryRepo) ReserveStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE dealer_inventories
		SET reserved_stock = reserved_stock + ?, version = version + 1, updated_at = ?
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ? AND (stock - reserved_stock) >= ?
	`, quantity, time.Now().UTC(), dealerID, key.ProductID, key.VariantHash, quantity)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: out of stock for %s at dealer %d", domain.ErrInsufficientStock, key, dealerID)
	}
	return nil
}

// ReleaseStock 释放预留库存，最低到 0
func (r *dealerInventoryRepo) ReleaseStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE dealer_inventories
		SET reserved_stock = CASE WHEN reserved_stock >= ? THEN reserved_stock - ? ELSE 0 END,
			version = version + 1, updated_at = ?
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?
	`, quantity, quantity, time.Now().UTC(), dealerID, key.ProductID, key.VariantHash)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return nil
}

// ConsumeStock 实车交付：同时扣减实物库存与预留
func (r *dealerInventoryRepo) ConsumeStock(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE dealer_inventories
		SET stock = stock - ?, reserved_stock = reserved_stock - ?, version = version + 1, updated_at = ?
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ? AND reserved_stock >= ?
	`, quantity, quantity, time.Now().UTC(), dealerID, key.ProductID, key.VariantHash, quantity)
	if err != nil {
		return fmt.Errorf("failed to consume stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: insufficient reserved stock to consume for %s at dealer %d",
			domain.ErrInsufficientStock, key, dealerID)
	}
	return nil
}

func scanDealerInventory(s rowScanner) (*domain.DealerInventory, error) {
	inv := &domain.DealerInventory{}
	if err := s.Scan(&inv.ID, &inv.DealerID, &inv.ProductID, &inv.VariantIndex, &inv.VariantHash,
		&inv.Stock, &inv.ReservedStock, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	return inv, nil
}
