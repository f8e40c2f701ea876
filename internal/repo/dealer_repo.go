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

// DealerRepository 定义经销商数据访问接口
type DealerRepository interface {
	Create(ctx context.Context, dealer *domain.Dealer) error
	GetByID(ctx context.Context, id int64) (*domain.Dealer, error)
	GetByCode(ctx context.Context, code string) (*domain.Dealer, error)
	List(ctx context.Context, req *domain.DealerListRequest) ([]*domain.Dealer, int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DealerStatus) error
	UpdateCreditLimit(ctx context.Context, id int64, creditLimit int64) error
}

type dealerRepo struct {
	db *sql.DB
}

// NewDealerRepository 创建经销商仓储实例
func NewDealerRepository(db *sql.DB) DealerRepository {
	return &dealerRepo{db: db}
}

const dealerColumns = `id, code, name, address, phone, email, contract_number, contract_start, contract_end,
	credit_limit, current_debt, status, created_at, updated_at`

// Create 创建经销商
func (r *dealerRepo) Create(ctx context.Context, dealer *domain.Dealer) error {
	now := time.Now().UTC()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO dealers (code, name, address, phone, email, contract_number, contract_start, contract_end,
			credit_limit, current_debt, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		dealer.Code, dealer.Name, dealer.Address, dealer.Phone, dealer.Email, dealer.ContractNumber,
		nullTime(dealer.ContractStart), nullTime(dealer.ContractEnd),
		dealer.CreditLimit, dealer.CurrentDebt, dealer.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create dealer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	dealer.ID = id
	dealer.CreatedAt, dealer.UpdatedAt = now, now
	return nil
}

// GetByID 根据ID获取经销商，已删除的视为不存在
func (r *dealerRepo) GetByID(ctx context.Context, id int64) (*domain.Dealer, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+dealerColumns+` FROM dealers WHERE id = ? AND deleted_at IS NULL`, id)

	dealer, err := scanDealer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer by id: %w", err)
	}
	return dealer, nil
}

// GetByCode 根据编码获取经销商
func (r *dealerRepo) GetByCode(ctx context.Context, code string) (*domain.Dealer, error) {
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+dealerColumns+` FROM dealers WHERE code = ?`, code)

	dealer, err := scanDealer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer by code: %w", err)
	}
	return dealer, nil
}

// List 获取经销商列表
func (r *dealerRepo) List(ctx context.Context, req *domain.DealerListRequest) ([]*domain.Dealer, int64, error) {
	conn := database.Conn(ctx, r.db)
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)

	where := "WHERE deleted_at IS NULL"
	var args []any
	if req.Status != nil {
		where += " AND status = ?"
		args = append(args, *req.Status)
	}

	var total int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dealers "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dealers: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+dealerColumns+` FROM dealers `+where+` ORDER BY id ASC LIMIT ? OFFSET ?`,
		append(args, pageSize, domain.Offset(page, pageSize))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dealers: %w", err)
	}
	defer rows.Close()

	var dealers []*domain.Dealer
	for rows.Next() {
		d, err := scanDealer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan dealer: %w", err)
		}
		dealers = append(dealers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate dealers: %w", err)
	}
	return dealers, total, nil
}

// UpdateStatus 更新经销商状态
func (r *dealerRepo) UpdateStatus(ctx context.Context, id int64, status domain.DealerStatus) error {
	return r.updateOne(ctx, "status", status, id)
}

// UpdateCreditLimit 更新授信额度
func (r *dealerRepo) UpdateCreditLimit(ctx context.Context, id int64, creditLimit int64) error {
	return r.updateOne(ctx, "credit_limit", creditLimit, id)
}

// updateOne column 只接受内部常量
func (r *dealerRepo) updateOne(ctx context.Context, column string, value any, id int64) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE dealers SET `+column+` = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update dealer %s: %w", column, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: dealer %d", domain.ErrNotFound, id)
	}
	return nil
}

func scanDealer(s rowScanner) (*domain.Dealer, error) {
	d := &domain.Dealer{}
	var start, end sql.NullTime
	if err := s.Scan(&d.ID, &d.Code, &d.Name, &d.Address, &d.Phone, &d.Email, &d.ContractNumber,
		&start, &end, &d.CreditLimit, &d.CurrentDebt, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ContractStart = timePtr(start)
	d.ContractEnd = timePtr(end)
	return d, nil
}

// nullTime 将可选时间转为可写入的参数，统一为 UTC
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
