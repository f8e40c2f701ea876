package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// PricingRepository 定义经销商价格、折扣与促销数据访问接口
type PricingRepository interface {
	UpsertDealerPrice(ctx context.Context, p *domain.DealerPrice) error
	GetDealerPrice(ctx context.Context, dealerID int64, key domain.VariantKey) (*domain.DealerPrice, error)

	CreateDiscount(ctx context.Context, d *domain.Discount) error
	ListDiscounts(ctx context.Context, dealerID int64) ([]*domain.Discount, error)
	SetDiscountActive(ctx context.Context, id int64, active bool) error

	CreatePromotion(ctx context.Context, p *domain.Promotion) error
	// ListPromotions 返回适用于该车型的促销（含全车型促销）
	ListPromotions(ctx context.Context, productID int64) ([]*domain.Promotion, error)
	UpdatePromotionStatus(ctx context.Context, id int64, status domain.PromotionStatus) error
}

type pricingRepo struct {
	db *sql.DB
}

// NewPricingRepository 创建价格仓储实例
func NewPricingRepository(db *sql.DB) PricingRepository {
	return &pricingRepo{db: db}
}

// UpsertDealerPrice 先更新，不存在再插入
func (r *pricingRepo) UpsertDealerPrice(ctx context.Context, p *domain.DealerPrice) error {
	conn := database.Conn(ctx, r.db)
	now := time.Now().UTC()

	result, err := conn.ExecContext(ctx, `
		UPDATE dealer_prices SET price = ?, updated_at = ?
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?
	`, p.Price, now, p.DealerID, p.ProductID, p.VariantHash)
	if err != nil {
		return fmt.Errorf("failed to update dealer price: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	p.UpdatedAt = now
	if affected > 0 {
		return nil
	}

	result, err = conn.ExecContext(ctx, `
		INSERT INTO dealer_prices (dealer_id, product_id, variant_hash, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.DealerID, p.ProductID, p.VariantHash, p.Price, now, now)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: dealer price was created concurrently", domain.ErrConflict)
		}
		return fmt.Errorf("failed to create dealer price: %w", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// GetDealerPrice 获取经销商专属价
func (r *pricingRepo) GetDealerPrice(ctx context.Context, dealerID int64, key domain.VariantKey) (*domain.DealerPrice, error) {
	p := &domain.DealerPrice{}
	err := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, dealer_id, product_id, variant_hash, price, updated_at
		FROM dealer_prices
		WHERE dealer_id = ? AND product_id = ? AND variant_hash = ?
	`, dealerID, key.ProductID, key.VariantHash).Scan(&p.ID, &p.DealerID, &p.ProductID, &p.VariantHash, &p.Price, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer price: %w", err)
	}
	return p, nil
}

// CreateDiscount 创建经销商折扣
func (r *pricingRepo) CreateDiscount(ctx context.Context, d *domain.Discount) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO dealer_discounts (dealer_id, name, discount_type, discount_value, start_at, end_at, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DealerID, d.Name, d.Type, d.Value.String(), nullTime(d.StartAt), nullTime(d.EndAt), boolToInt(d.Active), now)
	if err != nil {
		return fmt.Errorf("failed to create discount: %w", err)
	}
	if d.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.CreatedAt = now
	return nil
}

// ListDiscounts 获取经销商全部折扣
func (r *pricingRepo) ListDiscounts(ctx context.Context, dealerID int64) ([]*domain.Discount, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, dealer_id, name, discount_type, discount_value, start_at, end_at, active, created_at
		FROM dealer_discounts
		WHERE dealer_id = ?
		ORDER BY id ASC
	`, dealerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	defer rows.Close()

	var list []*domain.Discount
	for rows.Next() {
		d := &domain.Discount{}
		var start, end sql.NullTime
		var active int
		if err := rows.Scan(&d.ID, &d.DealerID, &d.Name, &d.Type, &d.Value, &start, &end, &active, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan discount: %w", err)
		}
		d.StartAt, d.EndAt = timePtr(start), timePtr(end)
		d.Active = active != 0
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discounts: %w", err)
	}
	return list, nil
}

// SetDiscountActive 启用或停用折扣
func (r *pricingRepo) SetDiscountActive(ctx context.Context, id int64, active bool) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE dealer_discounts SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update discount: %w", err)
	}
	return expectRow(result, "discount", id)
}

// CreatePromotion 创建促销
func (r *pricingRepo) CreatePromotion(ctx context.Context, p *domain.Promotion) error {
	now := time.Now().UTC()
	var productID sql.NullInt64
	if p.ProductID != nil {
		productID = sql.NullInt64{Int64: *p.ProductID, Valid: true}
	}

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO promotions (name, product_id, discount_type, discount_value, start_at, end_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, productID, p.Type, p.Value.String(), nullTime(p.StartAt), nullTime(p.EndAt), p.Status, now)
	if err != nil {
		return fmt.Errorf("failed to create promotion: %w", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.CreatedAt = now
	return nil
}

// ListPromotions 获取某车型可用的促销
func (r *pricingRepo) ListPromotions(ctx context.Context, productID int64) ([]*domain.Promotion, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, name, product_id, discount_type, discount_value, start_at, end_at, status, created_at
		FROM promotions
		WHERE product_id IS NULL OR product_id = ?
		ORDER BY id ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	defer rows.Close()

	var list []*domain.Promotion
	for rows.Next() {
		p := &domain.Promotion{}
		var pid sql.NullInt64
		var start, end sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &pid, &p.Type, &p.Value, &start, &end, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		if pid.Valid {
			v := pid.Int64
			p.ProductID = &v
		}
		p.StartAt, p.EndAt = timePtr(start), timePtr(end)
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promotions: %w", err)
	}
	return list, nil
}

// UpdatePromotionStatus 修改促销状态
func (r *pricingRepo) UpdatePromotionStatus(ctx context.Context, id int64, status domain.PromotionStatus) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE promotions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update promotion: %w", err)
	}
	return expectRow(result, "promotion", id)
}

func expectRow(result sql.Result, entity string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %d", domain.ErrNotFound, entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
