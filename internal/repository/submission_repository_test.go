package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futurerent/futurerent-chain/internal/model"
)

// TestSubmissionRepository_GetByID_NotFound 测试不存在的记录
func TestSubmissionRepository_GetByID_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "chain_income_submissions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "1:2026-01")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSubmissionRepository_Upsert 测试覆盖写入填充时间戳
func TestSubmissionRepository_Upsert(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewSubmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "chain_income_submissions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub := &model.IncomeSubmission{
		ID:      "1:2026-01",
		AssetID: 1,
		Period:  "2026-01",
		Status:  model.SubmissionStatusReceived,
	}
	err := repo.Upsert(context.Background(), sub)
	require.NoError(t, err)
	assert.NotZero(t, sub.CreatedAt)
	assert.NotZero(t, sub.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPagination 测试分页参数
func TestPagination(t *testing.T) {
	p := &Pagination{Page: 0, PageSize: 0}
	assert.Equal(t, 0, p.Offset())
	assert.Equal(t, 20, p.Limit())

	p = &Pagination{Page: 3, PageSize: 50}
	assert.Equal(t, 100, p.Offset())
	assert.Equal(t, 50, p.Limit())

	p = &Pagination{Page: 1, PageSize: 500}
	assert.Equal(t, 100, p.Limit())
}
