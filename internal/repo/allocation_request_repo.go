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

// AllocationRequestRepository 定义要货申请数据访问接口
type AllocationRequestRepository interface {
	Create(ctx context.Context, req *domain.AllocationRequest) error
	GetByID(ctx context.Context, id int64) (*domain.AllocationRequest, error)
	// Update 按 version 乐观锁更新表头
	Update(ctx context.Context, req *domain.AllocationRequest) error
	ReplaceItems(ctx context.Context, req *domain.AllocationRequest) error
	SoftDelete(ctx context.Context, req *domain.AllocationRequest) error
	List(ctx context.Context, q *domain.AllocationRequestListRequest) ([]*domain.AllocationRequest, int64, error)
}

type allocationRequestRepo struct {
	db *sql.DB
}

// NewAllocationRequestRepository 创建要货申请仓储实例
func NewAllocationRequestRepository(db *sql.DB) AllocationRequestRepository {
	return &allocationRequestRepo{db: db}
}

const allocationRequestColumns = `id, code, dealer_id, total_quantity, status, notes, reject_reason, allocation_ids,
	created_by, version, submitted_at, decided_at, completed_at, created_at, updated_at`

// Create 创建申请及明细
func (r *allocationRequestRepo) Create(ctx context.Context, req *domain.AllocationRequest) error {
	now := time.Now().UTC()
	if req.Version == 0 {
		req.Version = 1
	}
	ids, err := encodeIDs(req.AllocationIDs)
	if err != nil {
		return err
	}

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO allocation_requests (code, dealer_id, total_quantity, status, notes, reject_reason, allocation_ids,
			created_by, version, submitted_at, decided_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.Code, req.DealerID, req.TotalQuantity, req.Status, req.Notes, req.RejectReason, ids,
		req.CreatedBy, req.Version, nullTime(req.SubmittedAt), nullTime(req.DecidedAt), nullTime(req.CompletedAt),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create allocation request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	req.ID = id
	req.CreatedAt, req.UpdatedAt = now, now

	return r.insertItems(ctx, req)
}

// GetByID 获取申请及明细
func (r *allocationRequestRepo) GetByID(ctx context.Context, id int64) (*domain.AllocationRequest, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+allocationRequestColumns+` FROM allocation_requests WHERE id = ? AND deleted_at IS NULL`, id)

	req, err := scanAllocationRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation request by id: %w", err)
	}

	if req.Items, err = r.listItems(ctx, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

// Update 更新状态、备注、关联分配单与时间戳
func (r *allocationRequestRepo) Update(ctx context.Context, req *domain.AllocationRequest) error {
	ids, err := encodeIDs(req.AllocationIDs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE allocation_requests
		SET total_quantity = ?, status = ?, notes = ?, reject_reason = ?, allocation_ids = ?,
			submitted_at = ?, decided_at = ?, completed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`,
		req.TotalQuantity, req.Status, req.Notes, req.RejectReason, ids,
		nullTime(req.SubmittedAt), nullTime(req.DecidedAt), nullTime(req.CompletedAt), now,
		req.ID, req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation request: %w", err)
	}
	if err := expectVersionBump(result, "allocation request", req.ID); err != nil {
		return err
	}
	req.Version++
	req.UpdatedAt = now
	return nil
}

// ReplaceItems 整体替换明细
func (r *allocationRequestRepo) ReplaceItems(ctx context.Context, req *domain.AllocationRequest) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM allocation_request_items WHERE request_id = ?`, req.ID); err != nil {
		return fmt.Errorf("failed to delete allocation request items: %w", err)
	}
	return r.insertItems(ctx, req)
}

// SoftDelete 软删除申请
func (r *allocationRequestRepo) SoftDelete(ctx context.Context, req *domain.AllocationRequest) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE allocation_requests SET deleted_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`, now, now, req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("failed to delete allocation request: %w", err)
	}
	return expectVersionBump(result, "allocation request", req.ID)
}

// List 获取申请列表（含明细）
func (r *allocationRequestRepo) List(ctx context.Context, q *domain.AllocationRequestListRequest) ([]*domain.AllocationRequest, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(q.Page, q.PageSize)

	conditions := []string{"deleted_at IS NULL"}
	var args []any
	if q.DealerID != nil {
		conditions = append(conditions, "dealer_id = ?")
		args = append(args, *q.DealerID)
	}
	if q.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *q.Status)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM allocation_requests "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count allocation requests: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+allocationRequestColumns+` FROM allocation_requests `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list allocation requests: %w", err)
	}

	var list []*domain.AllocationRequest
	for rows.Next() {
		req, err := scanAllocationRequest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, fmt.Errorf("failed to scan allocation request: %w", err)
		}
		list = append(list, req)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to iterate allocation requests: %w", err)
	}

	for _, req := range list {
		if req.Items, err = r.listItems(ctx, req.ID); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

func (r *allocationRequestRepo) insertItems(ctx context.Context, req *domain.AllocationRequest) error {
	conn := database.Conn(ctx, r.db)
	for i := range req.Items {
		it := &req.Items[i]
		result, err := conn.ExecContext(ctx, `
			INSERT INTO allocation_request_items (request_id, product_id, variant_index, variant_hash, quantity)
			VALUES (?, ?, ?, ?, ?)
		`, req.ID, it.ProductID, it.VariantIndex, it.VariantHash, it.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert allocation request item: %w", err)
		}
		if it.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (r *allocationRequestRepo) listItems(ctx context.Context, requestID int64) ([]domain.AllocationRequestItem, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, product_id, variant_index, variant_hash, quantity
		FROM allocation_request_items
		WHERE request_id = ?
		ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocation request items: %w", err)
	}
	defer rows.Close()

	var items []domain.AllocationRequestItem
	for rows.Next() {
		var it domain.AllocationRequestItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantIndex, &it.VariantHash, &it.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan allocation request item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate allocation request items: %w", err)
	}
	return items, nil
}

func scanAllocationRequest(s rowScanner) (*domain.AllocationRequest, error) {
	req := &domain.AllocationRequest{}
	var ids string
	var submittedAt, decidedAt, completedAt sql.NullTime
	if err := s.Scan(&req.ID, &req.Code, &req.DealerID, &req.TotalQuantity, &req.Status, &req.Notes,
		&req.RejectReason, &ids, &req.CreatedBy, &req.Version, &submittedAt, &decidedAt, &completedAt,
		&req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	req.SubmittedAt = timePtr(submittedAt)
	req.DecidedAt = timePtr(decidedAt)
	req.CompletedAt = timePtr(completedAt)

	req.AllocationIDs = []int64{}
	if ids != "" {
		if err := json.Unmarshal([]byte(ids), &req.AllocationIDs); err != nil {
			return nil, fmt.Errorf("decode allocation ids: %w", err)
		}
	}
	return req, nil
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode allocation ids: %w", err)
	}
	return string(b), nil
}
