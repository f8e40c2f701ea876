// Package repo 实现数据访问层，负责与数据库的交互。
// 所有语句通过 database.Conn 执行，调用方在事务中时自动使用该事务。
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// ProductRepository 定义车型与变体数据访问接口
type ProductRepository interface {
	// 车型
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error)

	// 变体
	GetVariant(ctx context.Context, productID int64, variantIndex int) (*domain.ProductVariant, error)
	GetVariantByHash(ctx context.Context, productID int64, variantHash string) (*domain.ProductVariant, error)

	// 厂商库存计数器
	DebitVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error
	CreditVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error
	AdjustVariantStock(ctx context.Context, key domain.VariantKey, delta int) (int, error)
	CommittedQuantity(ctx context.Context, key domain.VariantKey) (int, error)
}

// productRepo 实现ProductRepository接口
type productRepo struct {
	db *sql.DB
}

// NewProductRepository 创建车型仓储实例
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepo{db: db}
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// Create 创建车型及其全部变体
func (r *productRepo) Create(ctx context.Context, product *domain.Product) error {
	conn := database.Conn(ctx, r.db)
	now := time.Now().UTC()

	result, err := conn.ExecContext(ctx, `
		INSERT INTO products (name, model, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, product.Name, product.Model, product.Description, product.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	product.ID = id
	product.CreatedAt, product.UpdatedAt = now, now

	for i := range product.Variants {
		v := &product.Variants[i]
		attrs, err := json.Marshal(v.AttributeValue)
		if err != nil {
			return fmt.Errorf("failed to encode attribute value: %w", err)
		}
		res, err := conn.ExecContext(ctx, `
			INSERT INTO product_variants (product_id, variant_index, variant_hash, attribute_value, price, stock, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, v.VariantIndex, v.VariantHash, string(attrs), v.Price, v.Stock, now, now)
		if err != nil {
			return fmt.Errorf("failed to create product variant: %w", err)
		}
		if v.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		v.ProductID = id
		v.UpdatedAt = now
	}
	return nil
}

// GetByID 根据ID获取车型（含变体）
func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, model, description, status, created_at, updated_at
		FROM products
		WHERE id = ? AND deleted_at IS NULL
	`, id)

	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by id: %w", err)
	}

	if product.Variants, err = r.listVariants(ctx, id); err != nil {
		return nil, err
	}
	return product, nil
}

// List 获取车型列表
func (r *productRepo) List(ctx context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	where, args := r.buildListWhereClause(req)

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM products "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	query := `
		SELECT id, name, model, description, status, created_at, updated_at
		FROM products ` + where + `
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := conn.QueryContext(ctx, query, append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to iterate products: %w", err)
	}

	for _, p := range products {
		if p.Variants, err = r.listVariants(ctx, p.ID); err != nil {
			return nil, 0, err
		}
	}
	return products, total, nil
}

// GetVariant 按下标获取变体
func (r *productRepo) GetVariant(ctx context.Context, productID int64, variantIndex int) (*domain.ProductVariant, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, product_id, variant_index, variant_hash, attribute_value, price, stock, updated_at
		FROM product_variants
		WHERE product_id = ? AND variant_index = ?
	`, productID, variantIndex)

	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product variant: %w", err)
	}
	return v, nil
}

// GetVariantByHash 按内容哈希获取变体
func (r *productRepo) GetVariantByHash(ctx context.Context, productID int64, variantHash string) (*domain.ProductVariant, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, product_id, variant_index, variant_hash, attribute_value, price, stock, updated_at
		FROM product_variants
		WHERE product_id = ? AND variant_hash = ?
	`, productID, variantHash)

	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product variant by hash: %w", err)
	}
	return v, nil
}

// DebitVariantStock 条件扣减厂商库存，库存不足时不修改任何行
func (r *productRepo) DebitVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock - ?, updated_at = ?
		WHERE product_id = ? AND variant_hash = ? AND stock >= ?
	`, quantity, time.Now().UTC(), key.ProductID, key.VariantHash, quantity)
	if err != nil {
		return fmt.Errorf("failed to debit variant stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: variant %s has fewer than %d units", domain.ErrInsufficientStock, key, quantity)
	}
	return nil
}

// CreditVariantStock 返还厂商库存
func (r *productRepo) CreditVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock + ?, updated_at = ?
		WHERE product_id = ? AND variant_hash = ?
	`, quantity, time.Now().UTC(), key.ProductID, key.VariantHash)
	if err != nil {
		return fmt.Errorf("failed to credit variant stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: variant %s", domain.ErrNotFound, key)
	}
	return nil
}

// AdjustVariantStock 补货或盘点修正，减少时最低到 0，返回调整后的库存
func (r *productRepo) AdjustVariantStock(ctx context.Context, key domain.VariantKey, delta int) (int, error) {
	conn := database.Conn(ctx, r.db)
	result, err := conn.ExecContext(ctx, `
		UPDATE product_variants
		SET stock = CASE WHEN stock + ? < 0 THEN 0 ELSE stock + ? END, updated_at = ?
		WHERE product_id = ? AND variant_hash = ?
	`, delta, delta, time.Now().UTC(), key.ProductID, key.VariantHash)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust variant stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: variant %s", domain.ErrNotFound, key)
	}

	var stock int
	if err := conn.QueryRowContext(ctx,
		`SELECT stock FROM product_variants WHERE product_id = ? AND variant_hash = ?`,
		key.ProductID, key.VariantHash).Scan(&stock); err != nil {
		return 0, fmt.Errorf("failed to read variant stock: %w", err)
	}
	return stock, nil
}

// CommittedQuantity 汇总仍占用厂商库存的分配数量
func (r *productRepo) CommittedQuantity(ctx context.Context, key domain.VariantKey) (int, error) {
	var committed int
	err := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM dealer_allocations
		WHERE product_id = ? AND variant_hash = ? AND deleted_at IS NULL
		  AND status IN ('pending', 'allocated', 'shipped')
	`, key.ProductID, key.VariantHash).Scan(&committed)
	if err != nil {
		return 0, fmt.Errorf("failed to sum committed quantity: %w", err)
	}
	return committed, nil
}

func (r *productRepo) listVariants(ctx context.Context, productID int64) ([]domain.ProductVariant, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, product_id, variant_index, variant_hash, attribute_value, price, stock, updated_at
		FROM product_variants
		WHERE product_id = ?
		ORDER BY variant_index ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.ProductVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product variant: %w", err)
		}
		variants = append(variants, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product variants: %w", err)
	}
	return variants, nil
}

// buildListWhereClause 构建查询条件子句
func (r *productRepo) buildListWhereClause(req *domain.ProductListRequest) (string, []any) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any

	if req.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *req.Status)
	}
	if req.Keyword != nil && strings.TrimSpace(*req.Keyword) != "" {
		kw := "%" + strings.TrimSpace(*req.Keyword) + "%"
		conditions = append(conditions, "(name LIKE ? OR model LIKE ?)")
		args = append(args, kw, kw)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanProduct(s rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	if err := s.Scan(&p.ID, &p.Name, &p.Model, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func scanVariant(s rowScanner) (*domain.ProductVariant, error) {
	v := &domain.ProductVariant{}
	var attrs string
	if err := s.Scan(&v.ID, &v.ProductID, &v.VariantIndex, &v.VariantHash, &attrs, &v.Price, &v.Stock, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrs), &v.AttributeValue); err != nil {
		return nil, fmt.Errorf("decode attribute value: %w", err)
	}
	return v, nil
}
