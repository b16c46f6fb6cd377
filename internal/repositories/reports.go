package repositories

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"lending/internal/models"
)

// HistoryFilter narrows a transaction history query. Zero values mean no filter.
type HistoryFilter struct {
	Username string
	Action   models.TransactionAction
	Limit    int
}

type ReportRepository interface {
	History(db *gorm.DB, filter HistoryFilter) ([]models.TransactionView, error)
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

// History returns transactions joined with usernames and book titles, newest first.
func (r *reportRepository) History(db *gorm.DB, filter HistoryFilter) ([]models.TransactionView, error) {
	if db == nil {
		db = r.db
	}
	query, args, err := historyQuery(goquDialect(db.Dialector.Name()), filter)
	if err != nil {
		return nil, errors.Wrap(err, "build history query")
	}
	var rows []models.TransactionView
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	return rows, nil
}

func historyQuery(dialect string, filter HistoryFilter) (string, []interface{}, error) {
	ds := goqu.Dialect(dialect).
		From(goqu.T("transactions").As("t")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("t.user_id").Eq(goqu.I("u.id")))).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("t.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("t.id").As("transaction_id"),
			goqu.I("t.user_id").As("user_id"),
			goqu.I("u.username").As("username"),
			goqu.I("t.book_id").As("book_id"),
			goqu.COALESCE(goqu.I("b.title"), "").As("book_title"),
			goqu.I("t.loan_id").As("loan_id"),
			goqu.I("t.action").As("action"),
			goqu.I("t.quantity").As("quantity"),
			goqu.I("t.borrow_date").As("borrow_date"),
			goqu.I("t.return_date").As("return_date"),
			goqu.I("t.created_at").As("timestamp"),
		).
		Order(goqu.I("t.created_at").Desc()).
		Prepared(true)

	if filter.Username != "" {
		ds = ds.Where(goqu.I("u.username").Eq(filter.Username))
	}
	if filter.Action != "" {
		ds = ds.Where(goqu.I("t.action").Eq(string(filter.Action)))
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	return ds.ToSQL()
}

// goquDialect maps a gorm dialector name to the registered goqu dialect.
func goquDialect(name string) string {
	switch name {
	case "sqlite":
		return "sqlite3"
	case "mysql":
		return "mysql"
	default:
		return "postgres"
	}
}
