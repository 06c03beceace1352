package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*PostgresRepository)(nil)

const defaultLockTimeout = 2 * time.Second

var defaultRetryDelays = []time.Duration{10 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:        pool,
		lockTimeout: defaultLockTimeout,
		retryDelays: defaultRetryDelays,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithTransaction выполняет fn в одной транзакции. Конфликты блокировок и сериализации
// повторяются с ограниченной задержкой, после чего возвращается circulation.ErrContention.
func (r *PostgresRepository) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := r.withRetry(ctx, func() error {
		return r.runTx(ctx, fn)
	})
	return classify(err)
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Ожидание блокировки ограничено, чтобы операция не висела бесконечно.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Прочие ошибки не повторяются: после обрыва на фиксации исход транзакции неизвестен.
		if !isContentionError(err) {
			return err
		}

		if i == len(r.retryDelays) {
			break
		}

		timer := time.NewTimer(r.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isContentionError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return true
	}
	return false
}

// classify переводит инфраструктурные ошибки в виды отказов circulation.
// Доменные ошибки, ErrNotFound и ошибки контекста возвращаются как есть.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if circulation.KindOf(err) != nil || errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isContentionError(err) {
		return &circulation.Error{Kind: circulation.ErrContention, Reason: err.Error()}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
		return &circulation.Error{Kind: circulation.ErrInvalidEntity, Reason: pgErr.ConstraintName}
	}
	return fmt.Errorf("%w: %w", circulation.ErrStorageUnavailable, err)
}

type pgTx struct {
	tx pgx.Tx
}

const (
	itemColumns   = `id, title, author, isbn, total_copies, available_copies, withdrawn, created_at`
	patronColumns = `id, name, email, active, expires_at, borrow_limit, open_loans, fine_cents, created_at`
	loanColumns   = `id, patron_id, item_id, borrowed_at, due_at, returned_at, fine_cents, renewal_count, renewed`
)

func scanItem(row pgx.Row) (*model.Item, error) {
	var i model.Item
	err := row.Scan(&i.ID, &i.Title, &i.Author, &i.ISBN, &i.TotalCopies, &i.AvailableCopies, &i.Withdrawn, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &i, nil
}

func scanPatron(row pgx.Row) (*model.Patron, error) {
	var p model.Patron
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Active, &p.ExpiresAt, &p.BorrowLimit, &p.OpenLoans, &p.FineCents, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan patron: %w", err)
	}
	return &p, nil
}

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var l model.Loan
	err := row.Scan(&l.ID, &l.PatronID, &l.ItemID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt, &l.FineCents, &l.RenewalCount, &l.Renewed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	return &l, nil
}

func collectLoans(rows pgx.Rows) ([]model.Loan, error) {
	defer rows.Close()

	var res []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) LoadItem(ctx context.Context, id int64) (*model.Item, error) {
	return scanItem(t.tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateItem(ctx context.Context, item *model.Item) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO items (title, author, isbn, total_copies, available_copies, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.Title, item.Author, item.ISBN, item.TotalCopies, item.AvailableCopies, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t *pgTx) SaveItem(ctx context.Context, item *model.Item) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE items SET title = $2, author = $3, isbn = $4, total_copies = $5, available_copies = $6,
		 withdrawn = $7
		 WHERE id = $1`,
		item.ID, item.Title, item.Author, item.ISBN, item.TotalCopies, item.AvailableCopies, item.Withdrawn,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListItems(ctx context.Context, limit int) ([]model.Item, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE NOT withdrawn ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	return collectItems(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (t *pgTx) SearchItems(ctx context.Context, term string, limit int) ([]model.Item, error) {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	rows, err := t.tx.Query(ctx,
		`SELECT `+itemColumns+`
		 FROM items
		 WHERE NOT withdrawn AND (title ILIKE $1 OR author ILIKE $1 OR isbn ILIKE $1)
		 ORDER BY id
		 LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]model.Item, error) {
	defer rows.Close()

	var res []model.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *i)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (t *pgTx) LoadPatron(ctx context.Context, id int64) (*model.Patron, error) {
	return scanPatron(t.tx.QueryRow(ctx,
		`SELECT `+patronColumns+` FROM patrons WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreatePatron(ctx context.Context, patron *model.Patron) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO patrons (name, email, active, expires_at, borrow_limit, open_loans, fine_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		patron.Name, patron.Email, patron.Active, patron.ExpiresAt, patron.BorrowLimit,
		patron.OpenLoans, patron.FineCents, patron.CreatedAt,
	).Scan(&patron.ID)
	if err != nil {
		return fmt.Errorf("insert patron: %w", err)
	}
	return nil
}

func (t *pgTx) SavePatron(ctx context.Context, patron *model.Patron) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE patrons SET name = $2, email = $3, active = $4, expires_at = $5,
		 borrow_limit = $6, open_loans = $7, fine_cents = $8
		 WHERE id = $1`,
		patron.ID, patron.Name, patron.Email, patron.Active, patron.ExpiresAt,
		patron.BorrowLimit, patron.OpenLoans, patron.FineCents,
	)
	if err != nil {
		return fmt.Errorf("update patron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) FindLoan(ctx context.Context, id int64) (*model.Loan, error) {
	return scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
}

func (t *pgTx) LoadLoan(ctx context.Context, id int64) (*model.Loan, error) {
	return scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateLoan(ctx context.Context, loan *model.Loan) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO loans (patron_id, item_id, borrowed_at, due_at, returned_at, fine_cents, renewal_count, renewed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		loan.PatronID, loan.ItemID, loan.BorrowedAt, loan.DueAt, loan.ReturnedAt,
		loan.FineCents, loan.RenewalCount, loan.Renewed,
	).Scan(&loan.ID)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (t *pgTx) SaveLoan(ctx context.Context, loan *model.Loan) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loans SET due_at = $2, returned_at = $3, fine_cents = $4, renewal_count = $5, renewed = $6
		 WHERE id = $1`,
		loan.ID, loan.DueAt, loan.ReturnedAt, loan.FineCents, loan.RenewalCount, loan.Renewed,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListPatronLoans(ctx context.Context, patronID int64) ([]model.Loan, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+loanColumns+`
		 FROM loans
		 WHERE patron_id = $1
		 ORDER BY borrowed_at DESC, id DESC`,
		patronID,
	)
	if err != nil {
		return nil, fmt.Errorf("select patron loans: %w", err)
	}
	return collectLoans(rows)
}

func (t *pgTx) ListOverdueLoans(ctx context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Loan, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+loanColumns+`
		 FROM loans
		 WHERE returned_at IS NULL AND due_at < $1 AND (due_at, id) > ($2, $3)
		 ORDER BY due_at, id
		 LIMIT $4`,
		now, after.DueAt, after.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue loans: %w", err)
	}
	return collectLoans(rows)
}
