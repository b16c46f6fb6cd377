package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lending/internal/config"
	"lending/internal/lockguard"
	"lending/internal/models"
	"lending/internal/repositories"
)

// fixture bundles an in-memory database with the repositories and services
// built on it.
type fixture struct {
	db      *gorm.DB
	users   repositories.UserRepository
	books   repositories.BookRepository
	loans   repositories.LoanRepository
	txns    repositories.TransactionRepository
	lending *lendingService
	catalog CatalogService
	clock   *stepClock
}

// stepClock hands out strictly increasing timestamps so entry ordering never ties.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db))

	f := &fixture{
		db:    db,
		users: repositories.NewUserRepository(db),
		books: repositories.NewBookRepository(db),
		loans: repositories.NewLoanRepository(db),
		txns:  repositories.NewTransactionRepository(db),
		clock: &stepClock{cur: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	tx := NewTxRunner(db)
	f.lending = NewLendingService(tx, f.users, f.books, f.loans, f.txns, repositories.NewReportRepository(db)).(*lendingService)
	f.lending.now = f.clock.Now
	f.catalog = NewCatalogService(tx, f.users, f.books, 4)
	return f
}

func (f *fixture) addUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, PasswordHash: "x", FullName: username}
	require.NoError(t, f.users.Create(nil, user))
	return user
}

func (f *fixture) addBook(t *testing.T, title string, qty int) *models.Book {
	t.Helper()
	book := &models.Book{Title: title, Author: "anon", Quantity: qty}
	require.NoError(t, f.books.Create(nil, book))
	return book
}

// openLoanDirect writes an outstanding loan without going through Borrow,
// the way an out-of-band import would.
func (f *fixture) openLoanDirect(t *testing.T, user *models.User, book *models.Book) *models.Loan {
	t.Helper()
	now := f.clock.Now()
	loan := &models.Loan{UserID: user.ID, BookID: book.ID, Quantity: 1, BorrowedAt: now, DueDate: now.Add(DefaultLoanPeriod)}
	require.NoError(t, f.loans.Open(nil, loan))
	return loan
}

func (f *fixture) quantity(t *testing.T, book *models.Book) int {
	t.Helper()
	qty, err := f.books.Quantity(nil, book.ID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) outstanding(t *testing.T, user *models.User) int {
	t.Helper()
	n, err := f.loans.CountOutstanding(nil, user.ID)
	require.NoError(t, err)
	return n
}

func (f *fixture) locked(t *testing.T, user *models.User) bool {
	t.Helper()
	u, err := f.users.GetByUsername(nil, user.Username)
	require.NoError(t, err)
	return u.IsLocked
}

func (f *fixture) entries(t *testing.T, user *models.User) []models.TransactionEntry {
	t.Helper()
	entries, err := f.txns.ListByUser(nil, user.ID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) loanCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Loan{}).Count(&n).Error)
	return n
}

// requireLockInvariant checks is_locked == (outstanding >= Threshold).
func (f *fixture) requireLockInvariant(t *testing.T, user *models.User) {
	t.Helper()
	require.Equal(t, f.outstanding(t, user) >= lockguard.Threshold, f.locked(t, user),
		"lock flag out of line with %d outstanding loans", f.outstanding(t, user))
}
