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
	ErrSubmissionNotFound = errors.New("income submission not found")
)

// SubmissionRepository 收益提交仓储接口
type SubmissionRepository interface {
	// Upsert 按 id 整条覆盖写入，重复提交收敛到最近一次的结果
	Upsert(ctx context.Context, sub *model.IncomeSubmission) error
	GetByID(ctx context.Context, id string) (*model.IncomeSubmission, error)
	List(ctx context.Context, page *Pagination) ([]*model.IncomeSubmission, error)
	ListByStatus(ctx context.Context, status model.SubmissionStatus, page *Pagination) ([]*model.IncomeSubmission, error)
}

// submissionRepository 收益提交仓储实现
type submissionRepository struct {
	*Repository
}

// NewSubmissionRepository 创建收益提交仓储
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{
		Repository: NewRepository(db),
	}
}

func (r *submissionRepository) Upsert(ctx context.Context, sub *model.IncomeSubmission) error {
	now := time.Now().UnixMilli()
	sub.UpdatedAt = now
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}

	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"asset_id", "period", "income_amount", "investor_share", "owner_share",
			"status", "proof_id", "commitment", "tx_hash", "last_error", "updated_at",
		}),
	}).Create(sub).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*model.IncomeSubmission, error) {
	var sub model.IncomeSubmission
	err := r.DB(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepository) List(ctx context.Context, page *Pagination) ([]*model.IncomeSubmission, error) {
	var subs []*model.IncomeSubmission

	query := r.DB(ctx).Model(&model.IncomeSubmission{})

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepository) ListByStatus(ctx context.Context, status model.SubmissionStatus, page *Pagination) ([]*model.IncomeSubmission, error) {
	var subs []*model.IncomeSubmission

	query := r.DB(ctx).Model(&model.IncomeSubmission{}).Where("status = ?", status)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&subs).Error
	return subs, err
}
