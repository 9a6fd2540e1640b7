package repository

import (
	"context"
	"errors"
	"time"

	"github.com/futurerent/futurerent-chain/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvestmentNotFound = errors.New("investment not found")
)

// InvestmentRepository 链上投资记录仓储接口
type InvestmentRepository interface {
	// Upsert 按 (token_id, investor) 覆盖写入，后到覆盖先到
	Upsert(ctx context.Context, inv *model.Investment) error
	GetByKey(ctx context.Context, tokenID int64, investor string) (*model.Investment, error)
	ListAll(ctx context.Context) ([]*model.Investment, error)
	ListByInvestor(ctx context.Context, investor string) ([]*model.Investment, error)
	DeleteByKey(ctx context.Context, tokenID int64, investor string) (int64, error)
	DeleteByTokenID(ctx context.Context, tokenID int64) (int64, error)
	CountByTokenID(ctx context.Context, tokenID int64) (int64, error)
}

// investmentRepository 链上投资记录仓储实现
type investmentRepository struct {
	*Repository
}

// NewInvestmentRepository 创建链上投资记录仓储
func NewInvestmentRepository(db *gorm.DB) InvestmentRepository {
	return &investmentRepository{
		Repository: NewRepository(db),
	}
}

func (r *investmentRepository) Upsert(ctx context.Context, inv *model.Investment) error {
	now := time.Now().UnixMilli()
	inv.UpdatedAt = now
	if inv.CreatedAt == 0 {
		inv.CreatedAt = now
	}

	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_id"}, {Name: "investor"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"share_percent", "invested_amount", "timestamp", "updated_at",
		}),
	}).Create(inv).Error
}

func (r *investmentRepository) GetByKey(ctx context.Context, tokenID int64, investor string) (*model.Investment, error) {
	var inv model.Investment
	err := r.DB(ctx).
		Where("token_id = ? AND lower(investor) = lower(?)", tokenID, investor).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvestmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *investmentRepository) ListAll(ctx context.Context) ([]*model.Investment, error) {
	var invs []*model.Investment
	err := r.DB(ctx).
		Order("id ASC").
		Find(&invs).Error
	return invs, err
}

func (r *investmentRepository) ListByInvestor(ctx context.Context, investor string) ([]*model.Investment, error) {
	var invs []*model.Investment
	err := r.DB(ctx).
		Where("lower(investor) = lower(?)", investor).
		Order("id ASC").
		Find(&invs).Error
	return invs, err
}

func (r *investmentRepository) DeleteByKey(ctx context.Context, tokenID int64, investor string) (int64, error) {
	result := r.DB(ctx).
		Where("token_id = ? AND lower(investor) = lower(?)", tokenID, investor).
		Delete(&model.Investment{})
	return result.RowsAffected, result.Error
}

func (r *investmentRepository) DeleteByTokenID(ctx context.Context, tokenID int64) (int64, error) {
	result := r.DB(ctx).
		Where("token_id = ?", tokenID).
		Delete(&model.Investment{})
	return result.RowsAffected, result.Error
}

func (r *investmentRepository) CountByTokenID(ctx context.Context, tokenID int64) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.Investment{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	return count, err
}
