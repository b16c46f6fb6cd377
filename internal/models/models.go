package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionAction string

const (
	TransactionActionBorrowed TransactionAction = "borrowed"
	TransactionActionReturned TransactionAction = "returned"
	TransactionActionLocked   TransactionAction = "locked"
)

// IDs are stored as char(36) so the same schema runs on postgres, mysql and sqlite.

type User struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey" json:"user_id"`
	Username     string    `gorm:"size:255;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	FullName     string    `gorm:"size:255" json:"full_name"`
	IsLocked     bool      `gorm:"not null;default:false" json:"is_locked"`
	CreatedAt    time.Time `json:"created_at"`
}

type Book struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey" json:"book_id"`
	Title         string    `gorm:"size:255;not null" json:"title"`
	Author        string    `gorm:"size:255;not null" json:"author"`
	Genre         string    `gorm:"size:100" json:"genre"`
	PublishedYear int       `json:"published_year"`
	Quantity      int       `gorm:"not null;default:0;check:chk_books_quantity,quantity >= 0" json:"quantity"`
	CreatedAt     time.Time `json:"created_at"`
}

// Loan is one borrow event. It is closed at most once and never deleted.
type Loan struct {
	ID         uuid.UUID  `gorm:"type:char(36);primaryKey" json:"borrow_id"`
	UserID     uuid.UUID  `gorm:"type:char(36);not null;index" json:"user_id"`
	User       User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BookID     uuid.UUID  `gorm:"type:char(36);not null;index" json:"book_id"`
	Book       Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Quantity   int        `gorm:"not null" json:"quantity"`
	BorrowedAt time.Time  `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time  `gorm:"not null" json:"return_date"`
	IsReturned bool       `gorm:"not null;default:false;index" json:"is_returned"`
	ReturnedAt *time.Time `json:"returned_at"`
}

// TransactionEntry is an append-only audit row. LoanID links borrowed and
// returned entries to the loan they describe; it is null for lock entries.
type TransactionEntry struct {
	ID         uuid.UUID         `gorm:"type:char(36);primaryKey" json:"transaction_id"`
	UserID     uuid.UUID         `gorm:"type:char(36);not null;index" json:"user_id"`
	BookID     uuid.NullUUID     `gorm:"type:char(36);index" json:"book_id"`
	LoanID     uuid.NullUUID     `gorm:"type:char(36);index" json:"borrow_id"`
	Action     TransactionAction `gorm:"size:16;not null;index" json:"action"`
	Quantity   int               `gorm:"not null;default:0" json:"quantity"`
	BorrowDate *time.Time        `json:"borrow_date"`
	ReturnDate *time.Time        `json:"return_date"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"timestamp"`
}

func (TransactionEntry) TableName() string { return "transactions" }

// TransactionView is a transaction row joined with its user and book.
type TransactionView struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Username      string            `json:"username"`
	BookID        uuid.NullUUID     `json:"book_id"`
	BookTitle     string            `json:"book_title"`
	LoanID        uuid.NullUUID     `json:"borrow_id"`
	Action        TransactionAction `json:"action"`
	Quantity      int               `json:"quantity"`
	BorrowDate    *time.Time        `json:"borrow_date"`
	ReturnDate    *time.Time        `json:"return_date"`
	Timestamp     time.Time         `json:"timestamp"`
}

// LoanView is a loan joined with its book title.
type LoanView struct {
	ID         uuid.UUID  `json:"borrow_id"`
	UserID     uuid.UUID  `json:"user_id"`
	BookID     uuid.UUID  `json:"book_id"`
	Title      string     `json:"title"`
	Quantity   int        `json:"quantity"`
	BorrowedAt time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"return_date"`
	IsReturned bool       `json:"is_returned"`
	ReturnedAt *time.Time `json:"returned_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (e *TransactionEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// All returns every model managed by AutoMigrate, parents first.
func All() []interface{} {
	return []interface{}{&User{}, &Book{}, &Loan{}, &TransactionEntry{}}
}
