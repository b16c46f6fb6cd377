package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"lending/internal/models"
	"lending/internal/repositories"
)

// inlineTx runs transaction bodies directly with a nil handle. The mocked
// repositories never touch it.
type inlineTx struct{}

func (inlineTx) Transaction(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (inlineTx) Session(context.Context) *gorm.DB { return nil }

type mockUserRepo struct{ mock.Mock }

func (m *mockUserRepo) Create(db *gorm.DB, user *models.User) error {
	return m.Called(db, user).Error(0)
}

func (m *mockUserRepo) GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	args := m.Called(db, username)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) GetByUsernameForUpdate(db *gorm.DB, username string) (*models.User, error) {
	args := m.Called(db, username)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	args := m.Called(db, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) SetLocked(db *gorm.DB, id uuid.UUID, locked bool) error {
	return m.Called(db, id, locked).Error(0)
}

func (m *mockUserRepo) ListLockedIDs(db *gorm.DB) ([]uuid.UUID, error) {
	args := m.Called(db)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

type mockBookRepo struct{ mock.Mock }

func (m *mockBookRepo) Create(db *gorm.DB, book *models.Book) error {
	return m.Called(db, book).Error(0)
}

func (m *mockBookRepo) List(db *gorm.DB) ([]models.Book, error) {
	args := m.Called(db)
	books, _ := args.Get(0).([]models.Book)
	return books, args.Error(1)
}

func (m *mockBookRepo) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	args := m.Called(db, id)
	b, _ := args.Get(0).(*models.Book)
	return b, args.Error(1)
}

func (m *mockBookRepo) Quantity(db *gorm.DB, id uuid.UUID) (int, error) {
	args := m.Called(db, id)
	return args.Int(0), args.Error(1)
}

func (m *mockBookRepo) Reserve(db *gorm.DB, id uuid.UUID, qty int) error {
	return m.Called(db, id, qty).Error(0)
}

func (m *mockBookRepo) Release(db *gorm.DB, id uuid.UUID, qty int) error {
	return m.Called(db, id, qty).Error(0)
}

type mockLoanRepo struct{ mock.Mock }

func (m *mockLoanRepo) Open(db *gorm.DB, loan *models.Loan) error {
	return m.Called(db, loan).Error(0)
}

func (m *mockLoanRepo) GetByID(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	args := m.Called(db, id)
	l, _ := args.Get(0).(*models.Loan)
	return l, args.Error(1)
}

func (m *mockLoanRepo) Close(db *gorm.DB, id uuid.UUID, returnedAt time.Time) (*models.Loan, error) {
	args := m.Called(db, id, returnedAt)
	l, _ := args.Get(0).(*models.Loan)
	return l, args.Error(1)
}

func (m *mockLoanRepo) CountOutstanding(db *gorm.DB, userID uuid.UUID) (int, error) {
	args := m.Called(db, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockLoanRepo) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.LoanView, error) {
	args := m.Called(db, userID)
	loans, _ := args.Get(0).([]models.LoanView)
	return loans, args.Error(1)
}

func (m *mockLoanRepo) ListUsersWithOutstanding(db *gorm.DB, min int) ([]uuid.UUID, error) {
	args := m.Called(db, min)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

type mockTxnRepo struct{ mock.Mock }

func (m *mockTxnRepo) Append(db *gorm.DB, entry *models.TransactionEntry) error {
	return m.Called(db, entry).Error(0)
}

func (m *mockTxnRepo) LastBorrowed(db *gorm.DB, userID, bookID uuid.UUID) (*models.TransactionEntry, error) {
	args := m.Called(db, userID, bookID)
	e, _ := args.Get(0).(*models.TransactionEntry)
	return e, args.Error(1)
}

func (m *mockTxnRepo) BorrowedForLoan(db *gorm.DB, loanID uuid.UUID) (*models.TransactionEntry, error) {
	args := m.Called(db, loanID)
	e, _ := args.Get(0).(*models.TransactionEntry)
	return e, args.Error(1)
}

func (m *mockTxnRepo) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.TransactionEntry, error) {
	args := m.Called(db, userID)
	entries, _ := args.Get(0).([]models.TransactionEntry)
	return entries, args.Error(1)
}

type mockReportRepo struct{ mock.Mock }

func (m *mockReportRepo) History(db *gorm.DB, filter repositories.HistoryFilter) ([]models.TransactionView, error) {
	args := m.Called(db, filter)
	rows, _ := args.Get(0).([]models.TransactionView)
	return rows, args.Error(1)
}

// mockLending is a LendingService double for the sweeper.
type mockLending struct{ mock.Mock }

func (m *mockLending) Borrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*BorrowResult)
	return r, args.Error(1)
}

func (m *mockLending) Return(ctx context.Context, loanID uuid.UUID) (*ReturnResult, error) {
	args := m.Called(ctx, loanID)
	r, _ := args.Get(0).(*ReturnResult)
	return r, args.Error(1)
}

func (m *mockLending) ReevaluateLock(ctx context.Context, username string) (*LockStatus, error) {
	args := m.Called(ctx, username)
	s, _ := args.Get(0).(*LockStatus)
	return s, args.Error(1)
}

func (m *mockLending) ReevaluateAllLocks(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockLending) ListUserLoans(ctx context.Context, username string) ([]models.LoanView, error) {
	args := m.Called(ctx, username)
	loans, _ := args.Get(0).([]models.LoanView)
	return loans, args.Error(1)
}

func (m *mockLending) TransactionHistory(ctx context.Context, filter repositories.HistoryFilter) ([]models.TransactionView, error) {
	args := m.Called(ctx, filter)
	rows, _ := args.Get(0).([]models.TransactionView)
	return rows, args.Error(1)
}
