package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lending/internal/lockguard"
	"lending/internal/models"
	"lending/internal/repositories"
)

// DefaultLoanPeriod applies when a borrow request carries no return date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// ─── Request / Result Types ───────────────────────────────────────────────────

type BorrowRequest struct {
	Username string
	BookID   uuid.UUID
	DueDate  time.Time
	Quantity int
}

type BorrowResult struct {
	Loan *models.Loan
	// AccountLocked reports that this borrow brought the user to the lock threshold.
	AccountLocked bool
}

type ReturnResult struct {
	Loan          *models.Loan
	AccountLocked bool
}

// LockStatus is the outcome of an explicit lock reevaluation.
type LockStatus struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	Outstanding int       `json:"outstanding"`
	Locked      bool      `json:"is_locked"`
	Changed     bool      `json:"changed"`
}

// ─── Service Interface ────────────────────────────────────────────────────────

// LendingService coordinates borrows and returns against inventory, the loan
// ledger, the transaction log and the account lock flag. Each operation is a
// single transaction.
type LendingService interface {
	Borrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error)
	Return(ctx context.Context, loanID uuid.UUID) (*ReturnResult, error)

	ReevaluateLock(ctx context.Context, username string) (*LockStatus, error)
	ReevaluateAllLocks(ctx context.Context) (int, error)

	ListUserLoans(ctx context.Context, username string) ([]models.LoanView, error)
	TransactionHistory(ctx context.Context, filter repositories.HistoryFilter) ([]models.TransactionView, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type lendingService struct {
	tx         TxRunner
	userRepo   repositories.UserRepository
	bookRepo   repositories.BookRepository
	loanRepo   repositories.LoanRepository
	txnRepo    repositories.TransactionRepository
	reportRepo repositories.ReportRepository
	now        func() time.Time
}

// NewLendingService wires up all dependencies and returns a LendingService.
func NewLendingService(
	tx TxRunner,
	userRepo repositories.UserRepository,
	bookRepo repositories.BookRepository,
	loanRepo repositories.LoanRepository,
	txnRepo repositories.TransactionRepository,
	reportRepo repositories.ReportRepository,
) LendingService {
	return &lendingService{
		tx:         tx,
		userRepo:   userRepo,
		bookRepo:   bookRepo,
		loanRepo:   loanRepo,
		txnRepo:    txnRepo,
		reportRepo: reportRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow implements the transactional borrow flow.
//
// Steps (all in one transaction):
//  1. Lock the user row (FOR UPDATE) and count outstanding loans.
//  2. Ask the lock guard. A stale lock is cleared; an account at the threshold
//     is locked, a `locked` entry is logged and the borrow is rejected.
//  3. Reserve inventory (FOR UPDATE on the book row).
//  4. Open the loan.
//  5. Append the `borrowed` entry, linked to the loan.
//  6. Lock the account if this loan reached the threshold.
//
// The threshold rejection commits its lock update before returning
// ErrTooManyUnreturned; every other failure rolls back.
func (s *lendingService) Borrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	now := s.now()
	if req.DueDate.IsZero() {
		req.DueDate = now.Add(DefaultLoanPeriod)
	}

	var result *BorrowResult
	var rejection error

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByUsernameForUpdate(tx, req.Username)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		outstanding, err := s.loanRepo.CountOutstanding(tx, user.ID)
		if err != nil {
			return err
		}

		admit := lockguard.ForBorrow(outstanding, user.IsLocked)
		if admit.Reject {
			if !admit.Changed {
				log.Printf("[WARN] Borrow: user %s is locked with %d unreturned loans", user.Username, outstanding)
				return errLockedOverThreshold
			}
			if err := s.lockAccount(tx, user, uuid.NullUUID{UUID: req.BookID, Valid: true}, now); err != nil {
				return err
			}
			log.Printf("[WARN] Borrow: user %s locked with %d unreturned loans", user.Username, outstanding)
			rejection = ErrTooManyUnreturned
			return nil
		}
		if admit.Changed {
			if err := s.userRepo.SetLocked(tx, user.ID, false); err != nil {
				log.Printf("[ERROR] Borrow: failed to clear lock for user %s: %v", user.Username, err)
				return err
			}
			user.IsLocked = false
			log.Printf("[INFO] Borrow: cleared stale lock for user %s (%d unreturned)", user.Username, outstanding)
		}

		if err := s.bookRepo.Reserve(tx, req.BookID, req.Quantity); err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return ErrBookNotFound
			case errors.Is(err, repositories.ErrInsufficientStock):
				log.Printf("[INFO] Borrow: book %s has fewer than %d copies available", req.BookID, req.Quantity)
				return ErrOutOfStock
			}
			log.Printf("[ERROR] Borrow: failed to reserve book %s: %v", req.BookID, err)
			return err
		}

		loan := &models.Loan{
			UserID:     user.ID,
			BookID:     req.BookID,
			Quantity:   req.Quantity,
			BorrowedAt: now,
			DueDate:    req.DueDate,
		}
		if err := s.loanRepo.Open(tx, loan); err != nil {
			log.Printf("[ERROR] Borrow: failed to open loan for user %s / book %s: %v", user.Username, req.BookID, err)
			return err
		}

		borrowDate, dueDate := now, req.DueDate
		if err := s.txnRepo.Append(tx, &models.TransactionEntry{
			UserID:     user.ID,
			BookID:     uuid.NullUUID{UUID: req.BookID, Valid: true},
			LoanID:     uuid.NullUUID{UUID: loan.ID, Valid: true},
			Action:     models.TransactionActionBorrowed,
			Quantity:   req.Quantity,
			BorrowDate: &borrowDate,
			ReturnDate: &dueDate,
			CreatedAt:  now,
		}); err != nil {
			log.Printf("[ERROR] Borrow: failed to log borrow of loan %s: %v", loan.ID, err)
			return err
		}

		settled := lockguard.Reevaluate(outstanding+1, user.IsLocked)
		if settled.Changed {
			if err := s.lockAccount(tx, user, uuid.NullUUID{UUID: req.BookID, Valid: true}, now); err != nil {
				return err
			}
			log.Printf("[INFO] Borrow: user %s reached %d unreturned loans, account locked", user.Username, outstanding+1)
		}

		result = &BorrowResult{Loan: loan, AccountLocked: lockguard.LocksOnNextLoan(outstanding)}
		log.Printf("[INFO] Borrow: loan %s opened for user %s / book %s x%d, due %s",
			loan.ID, user.Username, req.BookID, req.Quantity, req.DueDate.Format("2006-01-02"))
		return nil
	})

	if err != nil {
		err = classify("borrow", err)
		if errors.Is(err, ErrStoreUnavailable) {
			log.Printf("[ERROR] Borrow: transaction failed for user %s / book %s: %v", req.Username, req.BookID, err)
		}
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}
	return result, nil
}

// lockAccount sets the lock flag and appends the `locked` audit entry.
func (s *lendingService) lockAccount(tx *gorm.DB, user *models.User, bookID uuid.NullUUID, now time.Time) error {
	if err := s.userRepo.SetLocked(tx, user.ID, true); err != nil {
		log.Printf("[ERROR] lockAccount: failed to lock user %s: %v", user.Username, err)
		return err
	}
	if err := s.txnRepo.Append(tx, &models.TransactionEntry{
		UserID:    user.ID,
		BookID:    bookID,
		Action:    models.TransactionActionLocked,
		CreatedAt: now,
	}); err != nil {
		log.Printf("[ERROR] lockAccount: failed to log lock of user %s: %v", user.Username, err)
		return err
	}
	user.IsLocked = true
	return nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return implements the transactional return flow.
//
// Steps (all in one transaction):
//  1. Read the loan and lock its user row (same user→book order as Borrow).
//  2. Close the loan (FOR UPDATE); a closed loan fails with ErrAlreadyReturned.
//  3. Release the loan's quantity back to inventory.
//  4. Append a `returned` entry linked to the loan's `borrowed` entry.
//  5. Reevaluate the lock flag from the new outstanding count.
func (s *lendingService) Return(ctx context.Context, loanID uuid.UUID) (*ReturnResult, error) {
	var result *ReturnResult

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		pending, err := s.loanRepo.GetByID(tx, loanID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}

		user, err := s.userRepo.GetByIDForUpdate(tx, pending.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		now := s.now()
		loan, err := s.loanRepo.Close(tx, loanID, now)
		if err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return ErrLoanNotFound
			case errors.Is(err, repositories.ErrLoanClosed):
				log.Printf("[WARN] Return: loan %s already returned", loanID)
				return ErrAlreadyReturned
			}
			return err
		}

		if err := s.bookRepo.Release(tx, loan.BookID, loan.Quantity); err != nil {
			log.Printf("[ERROR] Return: failed to release book %s: %v", loan.BookID, err)
			return err
		}

		borrowDate := loan.BorrowedAt
		borrowed, err := s.findBorrowedEntry(tx, loan)
		if err != nil {
			return err
		}
		if borrowed != nil && borrowed.BorrowDate != nil {
			borrowDate = *borrowed.BorrowDate
		}
		returnDate := now
		if err := s.txnRepo.Append(tx, &models.TransactionEntry{
			UserID:     loan.UserID,
			BookID:     uuid.NullUUID{UUID: loan.BookID, Valid: true},
			LoanID:     uuid.NullUUID{UUID: loan.ID, Valid: true},
			Action:     models.TransactionActionReturned,
			Quantity:   loan.Quantity,
			BorrowDate: &borrowDate,
			ReturnDate: &returnDate,
			CreatedAt:  now,
		}); err != nil {
			log.Printf("[ERROR] Return: failed to log return of loan %s: %v", loan.ID, err)
			return err
		}

		status, err := s.settleLock(tx, user, uuid.NullUUID{UUID: loan.BookID, Valid: true}, now)
		if err != nil {
			return err
		}

		loan.IsReturned = true
		loan.ReturnedAt = &returnDate
		result = &ReturnResult{Loan: loan, AccountLocked: status.Locked}
		log.Printf("[INFO] Return: loan %s returned by user %s (%d still unreturned)", loan.ID, user.Username, status.Outstanding)
		return nil
	})

	if err != nil {
		err = classify("return", err)
		if errors.Is(err, ErrStoreUnavailable) {
			log.Printf("[ERROR] Return: transaction failed for loan %s: %v", loanID, err)
		}
		return nil, err
	}
	return result, nil
}

// findBorrowedEntry locates the `borrowed` entry for a loan by its explicit
// link, falling back to the latest borrow of the same book for entries written
// without one. A nil entry is not an error.
func (s *lendingService) findBorrowedEntry(tx *gorm.DB, loan *models.Loan) (*models.TransactionEntry, error) {
	entry, err := s.txnRepo.BorrowedForLoan(tx, loan.ID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	entry, err = s.txnRepo.LastBorrowed(tx, loan.UserID, loan.BookID)
	if err == nil {
		log.Printf("[WARN] findBorrowedEntry: loan %s has no linked entry, matched %s by recency", loan.ID, entry.ID)
		return entry, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// ─── Lock Reevaluation ────────────────────────────────────────────────────────

// settleLock recounts outstanding loans for a user whose row is already locked
// and brings the lock flag in line with the guard.
func (s *lendingService) settleLock(tx *gorm.DB, user *models.User, bookID uuid.NullUUID, now time.Time) (*LockStatus, error) {
	outstanding, err := s.loanRepo.CountOutstanding(tx, user.ID)
	if err != nil {
		return nil, err
	}
	d := lockguard.Reevaluate(outstanding, user.IsLocked)
	if d.Changed {
		if d.LogLock {
			if err := s.lockAccount(tx, user, bookID, now); err != nil {
				return nil, err
			}
		} else if err := s.userRepo.SetLocked(tx, user.ID, d.Locked); err != nil {
			log.Printf("[ERROR] settleLock: failed to set lock=%t for user %s: %v", d.Locked, user.Username, err)
			return nil, err
		}
		user.IsLocked = d.Locked
		log.Printf("[INFO] settleLock: user %s lock=%t (%d unreturned)", user.Username, d.Locked, outstanding)
	}
	return &LockStatus{
		UserID:      user.ID,
		Username:    user.Username,
		Outstanding: outstanding,
		Locked:      d.Locked,
		Changed:     d.Changed,
	}, nil
}

// ReevaluateLock recomputes a user's lock flag from their outstanding loans.
func (s *lendingService) ReevaluateLock(ctx context.Context, username string) (*LockStatus, error) {
	var status *LockStatus
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByUsernameForUpdate(tx, username)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		status, err = s.settleLock(tx, user, uuid.NullUUID{}, s.now())
		return err
	})
	if err != nil {
		return nil, classify("reevaluate lock", err)
	}
	return status, nil
}

// ReevaluateAllLocks reevaluates every locked user and every user at or over
// the threshold, one transaction per user. It returns how many flags changed.
func (s *lendingService) ReevaluateAllLocks(ctx context.Context) (int, error) {
	db := s.tx.Session(ctx)
	locked, err := s.userRepo.ListLockedIDs(db)
	if err != nil {
		return 0, classify("list lock candidates", err)
	}
	over, err := s.loanRepo.ListUsersWithOutstanding(db, lockguard.Threshold)
	if err != nil {
		return 0, classify("list lock candidates", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(locked)+len(over))
	changed := 0
	for _, id := range append(locked, over...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			return changed, err
		}

		var status *LockStatus
		err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			user, err := s.userRepo.GetByIDForUpdate(tx, id)
			if err != nil {
				return err
			}
			status, err = s.settleLock(tx, user, uuid.NullUUID{}, s.now())
			return err
		})
		if err != nil {
			log.Printf("[ERROR] ReevaluateAllLocks: user %s: %v", id, err)
			return changed, classify("reevaluate lock", err)
		}
		if status.Changed {
			changed++
		}
	}
	return changed, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// ListUserLoans returns every loan (outstanding and returned) for a user.
func (s *lendingService) ListUserLoans(ctx context.Context, username string) ([]models.LoanView, error) {
	db := s.tx.Session(ctx)
	user, err := s.userRepo.GetByUsername(db, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classify("list loans", err)
	}
	loans, err := s.loanRepo.ListByUser(db, user.ID)
	if err != nil {
		return nil, classify("list loans", err)
	}
	return loans, nil
}

// TransactionHistory returns the audit trail joined with usernames and titles.
func (s *lendingService) TransactionHistory(ctx context.Context, filter repositories.HistoryFilter) ([]models.TransactionView, error) {
	rows, err := s.reportRepo.History(s.tx.Session(ctx), filter)
	if err != nil {
		return nil, classify("transaction history", err)
	}
	return rows, nil
}
