package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lending/internal/models"
)

var (
	// ErrInsufficientStock is returned by Reserve when fewer copies are available
	// than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrLoanClosed is returned by Close when the loan was already returned.
	ErrLoanClosed = errors.New("loan already closed")
)

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByUsername(db *gorm.DB, username string) (*models.User, error)
	GetByUsernameForUpdate(db *gorm.DB, username string) (*models.User, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.User, error)
	SetLocked(db *gorm.DB, id uuid.UUID, locked bool) error
	ListLockedIDs(db *gorm.DB) ([]uuid.UUID, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	List(db *gorm.DB) ([]models.Book, error)
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	Quantity(db *gorm.DB, id uuid.UUID) (int, error)
	Reserve(db *gorm.DB, id uuid.UUID, qty int) error
	Release(db *gorm.DB, id uuid.UUID, qty int) error
}

type LoanRepository interface {
	Open(db *gorm.DB, loan *models.Loan) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	Close(db *gorm.DB, id uuid.UUID, returnedAt time.Time) (*models.Loan, error)
	CountOutstanding(db *gorm.DB, userID uuid.UUID) (int, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.LoanView, error)
	ListUsersWithOutstanding(db *gorm.DB, min int) ([]uuid.UUID, error)
}

type TransactionRepository interface {
	Append(db *gorm.DB, entry *models.TransactionEntry) error
	LastBorrowed(db *gorm.DB, userID, bookID uuid.UUID) (*models.TransactionEntry, error)
	BorrowedForLoan(db *gorm.DB, loanID uuid.UUID) (*models.TransactionEntry, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.TransactionEntry, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByUsernameForUpdate locks the user row so concurrent borrows by the same
// user serialize on the outstanding-loan check.
func (r *userRepository) GetByUsernameForUpdate(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "username = ?", username).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) SetLocked(db *gorm.DB, id uuid.UUID, locked bool) error {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.User{}).
		Where("id = ?", id).
		Update("is_locked", locked)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set is_locked=%t for user %s", locked, id)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) ListLockedIDs(db *gorm.DB) ([]uuid.UUID, error) {
	if db == nil {
		db = r.db
	}
	var ids []uuid.UUID
	if err := db.Model(&models.User{}).
		Where("is_locked = ?", true).
		Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list locked users")
	}
	return ids, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) List(db *gorm.DB) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	if err := db.Order("created_at DESC").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) Quantity(db *gorm.DB, id uuid.UUID) (int, error) {
	book, err := r.GetByID(db, id)
	if err != nil {
		return 0, err
	}
	return book.Quantity, nil
}

// Reserve locks the book row and takes qty copies out of the available count.
func (r *bookRepository) Reserve(db *gorm.DB, id uuid.UUID, qty int) error {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "quantity").
		First(&book, "id = ?", id).Error
	if err != nil {
		return err
	}
	if book.Quantity < qty {
		return ErrInsufficientStock
	}

	// The quantity guard repeats the check in case the row lock is unavailable (sqlite).
	res := db.Model(&models.Book{}).
		Where("id = ? AND quantity >= ?", id, qty).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "reserve %d of book %s", qty, id)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// Release puts qty copies back. No upper bound is enforced.
func (r *bookRepository) Release(db *gorm.DB, id uuid.UUID, qty int) error {
	if db == nil {
		db = r.db
	}
	err := db.Model(&models.Book{}).
		Where("id = ?", id).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", qty)).
		Error
	return errors.Wrapf(err, "release %d of book %s", qty, id)
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Open(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	loan.IsReturned = false
	loan.ReturnedAt = nil
	return db.Omit(clause.Associations).Create(loan).Error
}

func (r *loanRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	if err := db.First(&loan, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

// Close marks the loan returned and hands back the record as it was before the
// update. A second Close on the same loan fails with ErrLoanClosed.
func (r *loanRepository) Close(db *gorm.DB, id uuid.UUID, returnedAt time.Time) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	if loan.IsReturned {
		return nil, ErrLoanClosed
	}

	res := db.Model(&models.Loan{}).
		Where("id = ? AND is_returned = ?", id, false).
		Updates(map[string]interface{}{
			"is_returned": true,
			"returned_at": returnedAt,
		})
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "close loan %s", id)
	}
	if res.RowsAffected == 0 {
		return nil, ErrLoanClosed
	}
	return &loan, nil
}

func (r *loanRepository) CountOutstanding(db *gorm.DB, userID uuid.UUID) (int, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	if err := db.Model(&models.Loan{}).
		Where("user_id = ? AND is_returned = ?", userID, false).
		Count(&n).Error; err != nil {
		return 0, errors.Wrapf(err, "count outstanding loans for user %s", userID)
	}
	return int(n), nil
}

func (r *loanRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.LoanView, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.LoanView
	if err := db.Model(&models.Loan{}).
		Select("loans.*, books.title AS title").
		Joins("JOIN books ON books.id = loans.book_id").
		Where("loans.user_id = ?", userID).
		Order("loans.borrowed_at DESC").
		Scan(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ListUsersWithOutstanding(db *gorm.DB, min int) ([]uuid.UUID, error) {
	if db == nil {
		db = r.db
	}
	var ids []uuid.UUID
	if err := db.Model(&models.Loan{}).
		Where("is_returned = ?", false).
		Group("user_id").
		Having("COUNT(*) >= ?", min).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list users by outstanding loans")
	}
	return ids, nil
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Append(db *gorm.DB, entry *models.TransactionEntry) error {
	if db == nil {
		db = r.db
	}
	return errors.Wrapf(db.Create(entry).Error, "append %s entry", entry.Action)
}

// LastBorrowed returns the most recent borrowed entry for a user and book.
// Prefer BorrowedForLoan; this lookup cannot tell two open loans of the same
// book apart.
func (r *transactionRepository) LastBorrowed(db *gorm.DB, userID, bookID uuid.UUID) (*models.TransactionEntry, error) {
	if db == nil {
		db = r.db
	}
	var entry models.TransactionEntry
	err := db.
		Where("user_id = ? AND book_id = ? AND action = ?", userID, bookID, models.TransactionActionBorrowed).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *transactionRepository) BorrowedForLoan(db *gorm.DB, loanID uuid.UUID) (*models.TransactionEntry, error) {
	if db == nil {
		db = r.db
	}
	var entry models.TransactionEntry
	err := db.
		Where("loan_id = ? AND action = ?", loanID, models.TransactionActionBorrowed).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *transactionRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.TransactionEntry, error) {
	if db == nil {
		db = r.db
	}
	var entries []models.TransactionEntry
	if err := db.Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
