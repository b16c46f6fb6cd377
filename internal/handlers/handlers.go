package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lending/internal/models"
	"lending/internal/pkg/password"
	"lending/internal/repositories"
	"lending/internal/services"
)

// PingFunc reports whether the backing store is reachable.
type PingFunc func(ctx context.Context) error

type LendingHandler struct {
	lending services.LendingService
	catalog services.CatalogService
	ping    PingFunc
}

func RegisterRoutes(r *gin.Engine, lending services.LendingService, catalog services.CatalogService, ping PingFunc) {
	h := &LendingHandler{lending: lending, catalog: catalog, ping: ping}

	// Lending endpoints
	r.POST("/borrow-book", h.borrowBook)
	r.POST("/return-book", h.returnBook)
	r.GET("/borrowed-books/:username", h.listBorrowedBooks)
	r.POST("/users/:username/reevaluate-lock", h.reevaluateLock)
	r.GET("/transactions", h.listTransactions)

	// Catalog endpoints
	r.POST("/register", h.register)
	r.POST("/add-book", h.addBook)
	r.GET("/books", h.listBooks)

	r.GET("/health", h.health)
}

// dateLayouts are the accepted forms of return_date.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

type borrowRequest struct {
	Username   string `json:"username" binding:"required"`
	BookID     string `json:"book_id" binding:"required,uuid"`
	ReturnDate string `json:"return_date"`
	Quantity   *int   `json:"quantity"`
}

func (h *LendingHandler) borrowBook(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		badRequest(c, "invalid book id")
		return
	}

	var dueDate time.Time
	if req.ReturnDate != "" {
		dueDate, err = parseDate(req.ReturnDate)
		if err != nil {
			badRequest(c, "invalid return_date")
			return
		}
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	res, err := h.lending.Borrow(c.Request.Context(), services.BorrowRequest{
		Username: req.Username,
		BookID:   bookID,
		DueDate:  dueDate,
		Quantity: qty,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"accountLocked": res.AccountLocked,
		"borrow_id":     res.Loan.ID,
		"due_date":      res.Loan.DueDate,
	})
}

type returnRequest struct {
	BorrowID string `json:"borrow_id" binding:"required,uuid"`
}

func (h *LendingHandler) returnBook(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	loanID, err := uuid.Parse(req.BorrowID)
	if err != nil {
		badRequest(c, "invalid borrow id")
		return
	}

	res, err := h.lending.Return(c.Request.Context(), loanID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"accountLocked": res.AccountLocked,
	})
}

func (h *LendingHandler) listBorrowedBooks(c *gin.Context) {
	loans, err := h.lending.ListUserLoans(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	if loans == nil {
		loans = []models.LoanView{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "borrowedBooks": loans})
}

func (h *LendingHandler) reevaluateLock(c *gin.Context) {
	status, err := h.lending.ReevaluateLock(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

func (h *LendingHandler) listTransactions(c *gin.Context) {
	filter := repositories.HistoryFilter{
		Username: c.Query("username"),
		Action:   models.TransactionAction(c.Query("action")),
	}
	switch filter.Action {
	case "", models.TransactionActionBorrowed, models.TransactionActionReturned, models.TransactionActionLocked:
	default:
		badRequest(c, "invalid action")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	rows, err := h.lending.TransactionHistory(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []models.TransactionView{}
	}
	c.JSON(http.StatusOK, rows)
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

func (h *LendingHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.catalog.RegisterUser(c.Request.Context(), req.Username, req.Password, req.FullName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user_id": user.ID})
}

type addBookRequest struct {
	Title         string `json:"title" binding:"required"`
	Author        string `json:"author" binding:"required"`
	Genre         string `json:"genre"`
	PublishedYear int    `json:"published_year"`
	Quantity      int    `json:"quantity" binding:"min=0"`
}

func (h *LendingHandler) addBook(c *gin.Context) {
	var req addBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	book, err := h.catalog.AddBook(c.Request.Context(), services.AddBookInput{
		Title:         req.Title,
		Author:        req.Author,
		Genre:         req.Genre,
		PublishedYear: req.PublishedYear,
		Quantity:      req.Quantity,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LendingHandler) listBooks(c *gin.Context) {
	books, err := h.catalog.ListBooks(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	c.JSON(http.StatusOK, books)
}

func (h *LendingHandler) health(c *gin.Context) {
	if err := h.ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func parseDate(raw string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrLoanNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrOutOfStock),
		errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, services.ErrAccountLocked),
		errors.Is(err, services.ErrTooManyUnreturned):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, password.ErrTooShort):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}
