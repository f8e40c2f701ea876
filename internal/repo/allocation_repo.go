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

// AllocationRepository 定义分配单与 VIN 数据访问接口
type AllocationRepository interface {
	Create(ctx context.Context, a *domain.DealerAllocation) error
	GetByID(ctx context.Context, id int64) (*domain.DealerAllocation, error)
	// Update 按 version 乐观锁更新，成功后 a.Version 自增
	Update(ctx context.Context, a *domain.DealerAllocation) error
	SoftDelete(ctx context.Context, a *domain.DealerAllocation) error
	List(ctx context.Context, req *domain.AllocationListRequest) ([]*domain.DealerAllocation, int64, error)

	InsertVINs(ctx context.Context, allocationID int64, vins []domain.AllocationVIN) error
	UpdateVIN(ctx context.Context, allocationID int64, position int, vin string) error
	// FindVINOwners 返回已被占用的 VIN 及其所属分配单
	FindVINOwners(ctx context.Context, vins []string) (map[string]int64, error)
}

type allocationRepo struct {
	db *sql.DB
}

// NewAllocationRepository 创建分配单仓储实例
func NewAllocationRepository(db *sql.DB) AllocationRepository {
	return &allocationRepo{db: db}
}

const allocationColumns = `id, dealer_id, product_id, variant_index, variant_hash, quantity, allocated_quantity,
	status, notes, allocated_at, shipped_at, delivered_at, created_by, version, created_at, updated_at`

// Create 创建分配单
func (r *allocationRepo) Create(ctx context.Context, a *domain.DealerAllocation) error {
	now := time.Now().UTC()
	if a.Version == 0 {
		a.Version = 1
	}

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO dealer_allocations (dealer_id, product_id, variant_index, variant_hash, quantity, allocated_quantity,
			status, notes, allocated_at, shipped_at, delivered_at, created_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.DealerID, a.ProductID, a.VariantIndex, a.VariantHash, a.Quantity, a.AllocatedQuantity,
		a.Status, a.Notes, nullTime(a.AllocatedAt), nullTime(a.ShippedAt), nullTime(a.DeliveredAt),
		a.CreatedBy, a.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create allocation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

// GetByID 获取分配单及其 VIN，已删除的视为不存在
func (r *allocationRepo) GetByID(ctx context.Context, id int64) (*domain.DealerAllocation, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM dealer_allocations WHERE id = ? AND deleted_at IS NULL`, id)

	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation by id: %w", err)
	}

	if a.VINs, err = r.listVINs(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// Update 乐观锁更新状态、数量与时间戳
func (r *allocationRepo) Update(ctx context.Context, a *domain.DealerAllocation) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE dealer_allocations
		SET quantity = ?, allocated_quantity = ?, status = ?, notes = ?,
			allocated_at = ?, shipped_at = ?, delivered_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`,
		a.Quantity, a.AllocatedQuantity, a.Status, a.Notes,
		nullTime(a.AllocatedAt), nullTime(a.ShippedAt), nullTime(a.DeliveredAt),
		now, a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	if err := expectVersionBump(result, "allocation", a.ID); err != nil {
		return err
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// SoftDelete 软删除分配单并释放其 VIN
func (r *allocationRepo) SoftDelete(ctx context.Context, a *domain.DealerAllocation) error {
	conn := database.Conn(ctx, r.db)
	now := time.Now().UTC()

	result, err := conn.ExecContext(ctx, `
		UPDATE dealer_allocations
		SET deleted_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`, now, now, a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("failed to delete allocation: %w", err)
	}
	if err := expectVersionBump(result, "allocation", a.ID); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM allocation_vins WHERE allocation_id = ?`, a.ID); err != nil {
		return fmt.Errorf("failed to delete allocation vins: %w", err)
	}
	a.Version++
	return nil
}

// List 获取分配单列表，不加载 VIN
func (r *allocationRepo) List(ctx context.Context, req *domain.AllocationListRequest) ([]*domain.DealerAllocation, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	where, args := r.buildListWhereClause(req)

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dealer_allocations "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count allocations: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM dealer_allocations `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var list []*domain.DealerAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan allocation: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate allocations: %w", err)
	}
	return list, total, nil
}

// InsertVINs 批量写入 VIN，position 从 0 开始
func (r *allocationRepo) InsertVINs(ctx context.Context, allocationID int64, vins []domain.AllocationVIN) error {
	conn := database.Conn(ctx, r.db)
	for _, v := range vins {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO allocation_vins (allocation_id, position, vin, created_by, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, allocationID, v.Position, v.VIN, v.CreatedBy, v.CreatedAt.UTC())
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s is already assigned", domain.ErrDuplicateVin, v.VIN)
			}
			return fmt.Errorf("failed to insert vin: %w", err)
		}
	}
	return nil
}

// UpdateVIN 原位替换某个位置上的 VIN
func (r *allocationRepo) UpdateVIN(ctx context.Context, allocationID int64, position int, vin string) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE allocation_vins SET vin = ? WHERE allocation_id = ? AND position = ?`,
		vin, allocationID, position)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s is already assigned", domain.ErrDuplicateVin, vin)
		}
		return fmt.Errorf("failed to update vin: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: vin position %d", domain.ErrNotFound, position)
	}
	return nil
}

// FindVINOwners 查询已存在的 VIN
func (r *allocationRepo) FindVINOwners(ctx context.Context, vins []string) (map[string]int64, error) {
	owners := make(map[string]int64)
	if len(vins) == 0 {
		return owners, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vins)), ",")
	args := make([]any, len(vins))
	for i, v := range vins {
		args[i] = v
	}

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT vin, allocation_id FROM allocation_vins WHERE vin IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vin string
		var allocationID int64
		if err := rows.Scan(&vin, &allocationID); err != nil {
			return nil, fmt.Errorf("failed to scan vin: %w", err)
		}
		owners[vin] = allocationID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vins: %w", err)
	}
	return owners, nil
}

func (r *allocationRepo) listVINs(ctx context.Context, allocationID int64) ([]domain.AllocationVIN, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT position, vin, created_by, created_at
		FROM allocation_vins
		WHERE allocation_id = ?
		ORDER BY position ASC
	`, allocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vins: %w", err)
	}
	defer rows.Close()

	var vins []domain.AllocationVIN
	for rows.Next() {
		var v domain.AllocationVIN
		if err := rows.Scan(&v.Position, &v.VIN, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vin: %w", err)
		}
		vins = append(vins, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vins: %w", err)
	}
	return vins, nil
}

// buildListWhereClause 构建查询条件子句
func (r *allocationRepo) buildListWhereClause(req *domain.AllocationListRequest) (string, []any) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any

	if req.DealerID != nil {
		conditions = append(conditions, "dealer_id = ?")
		args = append(args, *req.DealerID)
	}
	if req.ProductID != nil {
		conditions = append(conditions, "product_id = ?")
		args = append(args, *req.ProductID)
	}
	if req.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *req.Status)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// expectVersionBump 乐观锁未命中映射为 Conflict
func expectVersionBump(result sql.Result, entity string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %d was modified concurrently", domain.ErrConflict, entity, id)
	}
	return nil
}

func scanAllocation(s rowScanner) (*domain.DealerAllocation, error) {
	a := &domain.DealerAllocation{}
	var allocatedAt, shippedAt, deliveredAt sql.NullTime
	if err := s.Scan(&a.ID, &a.DealerID, &a.ProductID, &a.VariantIndex, &a.VariantHash, &a.Quantity,
		&a.AllocatedQuantity, &a.Status, &a.Notes, &allocatedAt, &shippedAt, &deliveredAt,
		&a.CreatedBy, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AllocatedAt = timePtr(allocatedAt)
	a.ShippedAt = timePtr(shippedAt)
	a.DeliveredAt = timePtr(deliveredAt)
	return a, nil
}
