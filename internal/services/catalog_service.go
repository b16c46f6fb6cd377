package services

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"lending/internal/models"
	"lending/internal/pkg/password"
	"lending/internal/repositories"
)

// CatalogService covers the plain CRUD the lending core relies on: registering
// borrowers and stocking books.
type CatalogService interface {
	RegisterUser(ctx context.Context, username, secret, fullName string) (*models.User, error)
	AddBook(ctx context.Context, input AddBookInput) (*models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	BookQuantity(ctx context.Context, bookID uuid.UUID) (int, error)
}

type AddBookInput struct {
	Title         string
	Author        string
	Genre         string
	PublishedYear int
	Quantity      int
}

type catalogService struct {
	tx       TxRunner
	userRepo repositories.UserRepository
	bookRepo repositories.BookRepository
	hashCost int
}

// NewCatalogService returns a CatalogService hashing passwords at hashCost.
func NewCatalogService(tx TxRunner, userRepo repositories.UserRepository, bookRepo repositories.BookRepository, hashCost int) CatalogService {
	return &catalogService{
		tx:       tx,
		userRepo: userRepo,
		bookRepo: bookRepo,
		hashCost: hashCost,
	}
}

func (s *catalogService) RegisterUser(ctx context.Context, username, secret, fullName string) (*models.User, error) {
	if err := password.Validate(secret); err != nil {
		return nil, err
	}
	hash, err := password.Hash(secret, s.hashCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     fullName,
	}
	if err := s.userRepo.Create(s.tx.Session(ctx), user); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		log.Printf("[ERROR] RegisterUser: failed to create user %q: %v", username, err)
		return nil, classify("register user", err)
	}
	log.Printf("[INFO] RegisterUser: registered user %q (id=%s)", username, user.ID)
	return user, nil
}

func (s *catalogService) AddBook(ctx context.Context, input AddBookInput) (*models.Book, error) {
	if input.Quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	book := &models.Book{
		Title:         input.Title,
		Author:        input.Author,
		Genre:         input.Genre,
		PublishedYear: input.PublishedYear,
		Quantity:      input.Quantity,
	}
	if err := s.bookRepo.Create(s.tx.Session(ctx), book); err != nil {
		log.Printf("[ERROR] AddBook: failed to create book %q: %v", input.Title, err)
		return nil, classify("add book", err)
	}
	log.Printf("[INFO] AddBook: created book %q (id=%s) with %d copies", book.Title, book.ID, book.Quantity)
	return book, nil
}

// ListBooks returns all books in the catalogue, newest first.
func (s *catalogService) ListBooks(ctx context.Context) ([]models.Book, error) {
	books, err := s.bookRepo.List(s.tx.Session(ctx))
	if err != nil {
		return nil, classify("list books", err)
	}
	return books, nil
}

func (s *catalogService) BookQuantity(ctx context.Context, bookID uuid.UUID) (int, error) {
	qty, err := s.bookRepo.Quantity(s.tx.Session(ctx), bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrBookNotFound
		}
		return 0, classify("book quantity", err)
	}
	return qty, nil
}

// isUniqueViolation reports a unique-constraint error from any supported driver.
// PostgreSQL error code 23505 = unique_violation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
