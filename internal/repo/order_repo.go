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

// OrderRepository 定义客户订单数据访问接口
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// Update 按 version 乐观锁更新表头与金额
	Update(ctx context.Context, order *domain.Order) error
	ReplaceItems(ctx context.Context, order *domain.Order) error
	AppendHistory(ctx context.Context, orderID int64, h domain.OrderStatusHistory) error
	SoftDelete(ctx context.Context, order *domain.Order) error
	List(ctx context.Context, req *domain.OrderListRequest) ([]*domain.Order, int64, error)
}

type orderRepo struct {
	db *sql.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepo{db: db}
}

const orderColumns = `id, code, dealer_id, customer_name, customer_phone, customer_email, subtotal, discount_total,
	total_amount, status, notes, created_by, version, created_at, updated_at`

// Create 创建订单、明细及首条状态流水
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	if order.Version == 0 {
		order.Version = 1
	}

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (code, dealer_id, customer_name, customer_phone, customer_email, subtotal, discount_total,
			total_amount, status, notes, created_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.Code, order.DealerID, order.CustomerName, order.CustomerPhone, order.CustomerEmail,
		order.Subtotal, order.DiscountTotal, order.TotalAmount, order.Status, order.Notes,
		order.CreatedBy, order.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id
	order.CreatedAt, order.UpdatedAt = now, now

	if err := r.insertItems(ctx, order); err != nil {
		return err
	}
	for _, h := range order.StatusHistory {
		if err := r.AppendHistory(ctx, order.ID, h); err != nil {
			return err
		}
	}
	return nil
}

// GetByID 获取订单、明细与状态流水
func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ? AND deleted_at IS NULL`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by id: %w", err)
	}

	if err := r.loadChildren(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Update 更新订单表头
func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET customer_name = ?, customer_phone = ?, customer_email = ?, subtotal = ?, discount_total = ?,
			total_amount = ?, status = ?, notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`,
		order.CustomerName, order.CustomerPhone, order.CustomerEmail, order.Subtotal, order.DiscountTotal,
		order.TotalAmount, order.Status, order.Notes, now, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if err := expectVersionBump(result, "order", order.ID); err != nil {
		return err
	}
	order.Version++
	order.UpdatedAt = now
	return nil
}

// ReplaceItems 整体替换订单明细
func (r *orderRepo) ReplaceItems(ctx context.Context, order *domain.Order) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}
	return r.insertItems(ctx, order)
}

// AppendHistory 追加状态流水
func (r *orderRepo) AppendHistory(ctx context.Context, orderID int64, h domain.OrderStatusHistory) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, actor, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, orderID, h.Status, h.Actor, h.Notes, h.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append order status history: %w", err)
	}
	return nil
}

// SoftDelete 软删除订单
func (r *orderRepo) SoftDelete(ctx context.Context, order *domain.Order) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET deleted_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`, now, now, order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return expectVersionBump(result, "order", order.ID)
}

// List 获取订单列表，只返回表头与明细
func (r *orderRepo) List(ctx context.Context, req *domain.OrderListRequest) ([]*domain.Order, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)

	conditions := []string{"deleted_at IS NULL"}
	var args []any
	if req.DealerID != nil {
		conditions = append(conditions, "dealer_id = ?")
		args = append(args, *req.DealerID)
	}
	if req.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *req.Status)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to iterate orders: %w", err)
	}

	for _, o := range orders {
		if o.Items, err = r.listItems(ctx, o.ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

func (r *orderRepo) insertItems(ctx context.Context, order *domain.Order) error {
	conn := database.Conn(ctx, r.db)
	for i := range order.Items {
		it := &order.Items[i]
		snapshot := string(it.ProductSnapshot)
		if snapshot == "" {
			snapshot = "{}"
		}
		result, err := conn.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_index, variant_hash, quantity, unit_price,
				discount, total_price, product_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, order.ID, it.ProductID, it.VariantIndex, it.VariantHash, it.Quantity, it.UnitPrice,
			it.Discount, it.TotalPrice, snapshot)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
		if it.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) loadChildren(ctx context.Context, order *domain.Order) error {
	var err error
	if order.Items, err = r.listItems(ctx, order.ID); err != nil {
		return err
	}
	order.StatusHistory, err = r.listHistory(ctx, order.ID)
	return err
}

func (r *orderRepo) listItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, product_id, variant_index, variant_hash, quantity, unit_price, discount, total_price, product_snapshot
		FROM order_items
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var snapshot string
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantIndex, &it.VariantHash, &it.Quantity,
			&it.UnitPrice, &it.Discount, &it.TotalPrice, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		it.ProductSnapshot = []byte(snapshot)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepo) listHistory(ctx context.Context, orderID int64) ([]domain.OrderStatusHistory, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT status, actor, notes, created_at
		FROM order_status_history
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order status history: %w", err)
	}
	defer rows.Close()

	var history []domain.OrderStatusHistory
	for rows.Next() {
		var h domain.OrderStatusHistory
		if err := rows.Scan(&h.Status, &h.Actor, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order status history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order status history: %w", err)
	}
	return history, nil
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	o := &domain.Order{}
	if err := s.Scan(&o.ID, &o.Code, &o.DealerID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.Subtotal, &o.DiscountTotal, &o.TotalAmount, &o.Status, &o.Notes, &o.CreatedBy, &o.Version,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return o, nil
}
