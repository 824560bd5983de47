package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bilancio/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the persisted store behind the scheduler: owners,
// obligation templates, the ledger, derived account balances and budget
// periods. All dates are stored as unix seconds (UTC midnight for
// date-valued columns) so range filters stay numeric.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows a single writer; funnel every statement through one
	// connection so concurrent callers queue instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateSchema(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- owners ---

func (r *SQLiteRepository) CreateOwner(ctx context.Context, email string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO owners (email, created_at) VALUES (?, ?)`,
		email, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create owner: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("owner id: %w", err)
	}
	return id, nil
}

// ListOwnerIDs enumerates every owner, for the all-owners month-end sweep.
func (r *SQLiteRepository) ListOwnerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM owners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) ownerExists(ctx context.Context, q queryer, ownerID int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM owners WHERE id = ?`, ownerID).Scan(&one)
	if err == sql.ErrNoRows {
		return core.ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup owner %d: %w", ownerID, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- recurring obligations ---

const obligationColumns = `id, owner_id, amount_cents, direction, category, description,
	frequency, start_date, end_date, next_occurrence, is_active, remind, remind_days_before`

func (r *SQLiteRepository) CreateObligation(ctx context.Context, o *core.RecurringObligation) error {
	if err := r.ownerExists(ctx, r.db, o.OwnerID); err != nil {
		return err
	}
	if o.NextOccurrence.IsZero() {
		o.NextOccurrence = o.StartDate
	}
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_obligations
			(owner_id, amount_cents, direction, category, description, frequency,
			 start_date, end_date, next_occurrence, is_active, remind, remind_days_before,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OwnerID, o.Amount.Cents, string(o.Direction), o.Category, o.Description,
		string(o.Frequency), o.StartDate.Unix(), o.EndDate.Unix(), o.NextOccurrence.Unix(),
		boolToInt(o.IsActive), boolToInt(o.Remind), o.RemindDaysBefore, now, now)
	if err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("obligation id: %w", err)
	}
	o.ID = id
	return nil
}

func (r *SQLiteRepository) GetObligation(ctx context.Context, id int64) (*core.RecurringObligation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get obligation %d: %w", id, err)
	}
	return o, nil
}

func (r *SQLiteRepository) ObligationsByOwner(ctx context.Context, ownerID int64) ([]core.RecurringObligation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations WHERE owner_id = ? ORDER BY id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("obligations by owner: %w", err)
	}
	defer rows.Close()
	return collectObligations(rows)
}

// DueObligations returns every active obligation whose next occurrence is
// not after now.
func (r *SQLiteRepository) DueObligations(ctx context.Context, now time.Time) ([]core.RecurringObligation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations
		 WHERE is_active = 1 AND next_occurrence <= ? ORDER BY id`,
		now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("due obligations: %w", err)
	}
	defer rows.Close()
	return collectObligations(rows)
}

// DueObligationsByOwner is the owner-scoped variant of DueObligations.
func (r *SQLiteRepository) DueObligationsByOwner(ctx context.Context, ownerID int64, now time.Time) ([]core.RecurringObligation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations
		 WHERE owner_id = ? AND is_active = 1 AND next_occurrence <= ? ORDER BY id`,
		ownerID, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("due obligations for owner: %w", err)
	}
	defer rows.Close()
	return collectObligations(rows)
}

// RemindersDue returns active obligations flagged for reminders whose next
// occurrence lies strictly in the future but within the lead window.
func (r *SQLiteRepository) RemindersDue(ctx context.Context, now time.Time) ([]core.RecurringObligation, error) {
	nowUnix := now.UTC().Unix()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations
		 WHERE is_active = 1 AND remind = 1
		   AND next_occurrence > ?
		   AND next_occurrence <= ? + remind_days_before * 86400
		 ORDER BY id`,
		nowUnix, nowUnix)
	if err != nil {
		return nil, fmt.Errorf("reminders due: %w", err)
	}
	defer rows.Close()
	return collectObligations(rows)
}

// ClaimOccurrence conditionally advances an obligation's next occurrence
// from `from` to `to`. The filter on the previous value makes this an
// atomic claim: of two overlapping schedule runs, only one caller sees a
// row updated and proceeds to materialize the transaction.
func (r *SQLiteRepository) ClaimOccurrence(ctx context.Context, id int64, from, to core.Date) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_obligations
		SET next_occurrence = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND next_occurrence = ?`,
		to.Unix(), time.Now().Unix(), id, from.Unix())
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim occurrence rows: %w", err)
	}
	return n == 1, nil
}

// DeactivateObligation flips an obligation to its terminal inactive state.
// Returns false when it was already inactive or does not exist.
func (r *SQLiteRepository) DeactivateObligation(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_obligations
		SET is_active = 0, updated_at = ?
		WHERE id = ? AND is_active = 1`,
		time.Now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("deactivate obligation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate obligation rows: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(row rowScanner) (*core.RecurringObligation, error) {
	var (
		o                    core.RecurringObligation
		direction, frequency string
		start, end, next     int64
		isActive, remind     int
	)
	err := row.Scan(&o.ID, &o.OwnerID, &o.Amount.Cents, &direction, &o.Category,
		&o.Description, &frequency, &start, &end, &next, &isActive, &remind,
		&o.RemindDaysBefore)
	if err != nil {
		return nil, err
	}
	o.Direction = core.Direction(direction)
	o.Frequency = core.Frequency(frequency)
	o.StartDate = core.DateFromUnix(start)
	o.EndDate = core.DateFromUnix(end)
	o.NextOccurrence = core.DateFromUnix(next)
	o.IsActive = isActive == 1
	o.Remind = remind == 1
	return &o, nil
}

func collectObligations(rows *sql.Rows) ([]core.RecurringObligation, error) {
	var out []core.RecurringObligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- ledger transactions ---

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t *core.LedgerTransaction) error {
	if err := r.ownerExists(ctx, r.db, t.OwnerID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions
			(owner_id, amount_cents, direction, category, description, occurred_on,
			 account_tag, obligation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID, t.Amount.Cents, string(t.Direction), t.Category, t.Description,
		t.OccurredOn.Unix(), string(t.Tag), t.ObligationID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}
	t.ID = id
	return nil
}

const transactionColumns = `id, owner_id, amount_cents, direction, category, description,
	occurred_on, account_tag, obligation_id`

// TransactionsByOwner returns the owner's full ledger, newest occurrence
// first.
func (r *SQLiteRepository) TransactionsByOwner(ctx context.Context, ownerID int64) ([]core.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE owner_id = ? ORDER BY occurred_on DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("transactions by owner: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// TransactionsByOwnerTag restricts the ledger to one account tag.
func (r *SQLiteRepository) TransactionsByOwnerTag(ctx context.Context, ownerID int64, tag core.AccountTag) ([]core.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE owner_id = ? AND account_tag = ? ORDER BY occurred_on DESC, id DESC`,
		ownerID, string(tag))
	if err != nil {
		return nil, fmt.Errorf("transactions by owner and tag: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// TransactionsByCategoryRange returns the owner's transactions for one
// category with occurrence dates in [from, to).
func (r *SQLiteRepository) TransactionsByCategoryRange(ctx context.Context, ownerID int64, category string, from, to core.Date) ([]core.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE owner_id = ? AND category = ? AND occurred_on >= ? AND occurred_on < ?
		 ORDER BY occurred_on, id`,
		ownerID, category, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("transactions by category range: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// DeleteTransaction removes one ledger entry. Callers model edits as
// delete plus recreate and must resync the affected account afterwards.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ledger_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func collectTransactions(rows *sql.Rows) ([]core.LedgerTransaction, error) {
	var out []core.LedgerTransaction
	for rows.Next() {
		var (
			t              core.LedgerTransaction
			direction, tag string
			occurred       int64
		)
		err := rows.Scan(&t.ID, &t.OwnerID, &t.Amount.Cents, &direction, &t.Category,
			&t.Description, &occurred, &tag, &t.ObligationID)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Direction = core.Direction(direction)
		t.Tag = core.AccountTag(tag)
		t.OccurredOn = core.DateFromUnix(occurred)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- accounts ---

// SyncAccountBalance recomputes the balance for (owner, tag) by summing
// signed amounts over the ledger and persists the result. The last rollover
// stamp is left untouched; only RolloverBalances writes it.
func (r *SQLiteRepository) SyncAccountBalance(ctx context.Context, ownerID int64, tag core.AccountTag) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	if err := r.ownerExists(ctx, tx, ownerID); err != nil {
		return 0, err
	}

	balance, err := signedSum(ctx, tx, ownerID, tag)
	if err != nil {
		return 0, err
	}

	if err := upsertAccountBalance(ctx, tx, ownerID, tag, balance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sync: %w", err)
	}
	return balance, nil
}

// RolloverBalances transfers the current balance into main by writing a
// pair of offsetting ledger entries, then recomputes both balances from the
// ledger and stamps last_rollover_date on both accounts. Everything happens
// in one transaction so the transfer is computed from a single snapshot of
// the current balance. Returns the transferred signed amount.
func (r *SQLiteRepository) RolloverBalances(ctx context.Context, ownerID int64, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rollover: %w", err)
	}
	defer tx.Rollback()

	if err := r.ownerExists(ctx, tx, ownerID); err != nil {
		return 0, err
	}

	moved, err := signedSum(ctx, tx, ownerID, core.TagCurrent)
	if err != nil {
		return 0, err
	}

	if moved != 0 {
		// Outflow from current, matching inflow on main. Directions flip
		// when the current balance is negative.
		outDir, inDir := core.Expense, core.Income
		amount := moved
		if moved < 0 {
			outDir, inDir = core.Income, core.Expense
			amount = -moved
		}
		day := core.DateOf(now)
		createdAt := now.UTC().Unix()
		for _, entry := range []struct {
			dir core.Direction
			tag core.AccountTag
		}{
			{outDir, core.TagCurrent},
			{inDir, core.TagMain},
		} {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO ledger_transactions
					(owner_id, amount_cents, direction, category, description, occurred_on,
					 account_tag, obligation_id, created_at)
				VALUES (?, ?, ?, 'Rollover', 'Month-end rollover', ?, ?, 0, ?)`,
				ownerID, amount, string(entry.dir), day.Unix(), string(entry.tag), createdAt)
			if err != nil {
				return 0, fmt.Errorf("insert rollover entry: %w", err)
			}
		}
	}

	for _, tag := range []core.AccountTag{core.TagCurrent, core.TagMain} {
		balance, err := signedSum(ctx, tx, ownerID, tag)
		if err != nil {
			return 0, err
		}
		if err := upsertAccountBalance(ctx, tx, ownerID, tag, balance); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET last_rollover_date = ? WHERE owner_id = ? AND tag = ?`,
			now.UTC().Unix(), ownerID, string(tag))
		if err != nil {
			return 0, fmt.Errorf("stamp rollover date: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rollover: %w", err)
	}
	return moved, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, ownerID int64, tag core.AccountTag) (core.Account, error) {
	acct := core.Account{OwnerID: ownerID, Tag: tag}
	var balance, lastRollover int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_cents, last_rollover_date FROM accounts WHERE owner_id = ? AND tag = ?`,
		ownerID, string(tag)).Scan(&balance, &lastRollover)
	if err == sql.ErrNoRows {
		// Never synced: derived balance of an empty set is zero.
		return acct, nil
	}
	if err != nil {
		return acct, fmt.Errorf("get account: %w", err)
	}
	acct.Balance = core.Money{Cents: balance}
	acct.LastRolloverDate = core.DateFromUnix(lastRollover)
	return acct, nil
}

type execQueryer interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func signedSum(ctx context.Context, q queryer, ownerID int64, tag core.AccountTag) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'income' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_transactions
		WHERE owner_id = ? AND account_tag = ?`,
		ownerID, string(tag)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger for %s: %w", tag, err)
	}
	return sum, nil
}

func upsertAccountBalance(ctx context.Context, e execQueryer, ownerID int64, tag core.AccountTag, balance int64) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, tag, balance_cents, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, tag) DO UPDATE SET
			balance_cents = excluded.balance_cents,
			updated_at = excluded.updated_at`,
		ownerID, string(tag), balance, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert account balance: %w", err)
	}
	return nil
}

// --- budget periods ---

// BudgetsForMonth loads a month's budget periods with spent recomputed from
// the ledger (expense sum per category over the month), never from a stored
// counter.
func (r *SQLiteRepository) BudgetsForMonth(ctx context.Context, ownerID int64, month, year int) ([]core.BudgetPeriod, error) {
	from, to := monthBounds(month, year)
	rows, err := r.db.QueryContext(ctx, `
		SELECT b.id, b.owner_id, b.category, b.limit_cents, b.month, b.year, b.icon, b.is_template,
			COALESCE((
				SELECT SUM(t.amount_cents) FROM ledger_transactions t
				WHERE t.owner_id = b.owner_id AND t.category = b.category
				  AND t.direction = 'expense'
				  AND t.occurred_on >= ? AND t.occurred_on < ?
			), 0) AS spent_cents
		FROM budget_periods b
		WHERE b.owner_id = ? AND b.month = ? AND b.year = ?
		ORDER BY b.category`,
		from, to, ownerID, month, year)
	if err != nil {
		return nil, fmt.Errorf("budgets for month: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetPeriod
	for rows.Next() {
		var (
			b          core.BudgetPeriod
			isTemplate int
		)
		err := rows.Scan(&b.ID, &b.OwnerID, &b.Category, &b.Limit.Cents, &b.Month,
			&b.Year, &b.Icon, &isTemplate, &b.Spent.Cents)
		if err != nil {
			return nil, fmt.Errorf("scan budget period: %w", err)
		}
		b.IsTemplate = isTemplate == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBudgetMonth finds the most recent (month, year) strictly before the
// given one for which the owner has budget periods.
func (r *SQLiteRepository) LatestBudgetMonth(ctx context.Context, ownerID int64, month, year int) (int, int, bool, error) {
	var m, y int
	err := r.db.QueryRowContext(ctx, `
		SELECT month, year FROM budget_periods
		WHERE owner_id = ? AND (year < ? OR (year = ? AND month < ?))
		ORDER BY year DESC, month DESC
		LIMIT 1`,
		ownerID, year, year, month).Scan(&m, &y)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("latest budget month: %w", err)
	}
	return m, y, true, nil
}

// InsertBudgetPeriod inserts a budget period, relying on the uniqueness
// constraint on (owner, category, month, year): a conflicting row is left
// untouched and the insert reports false. This makes carry-over safe under
// concurrent callers without a pre-check.
func (r *SQLiteRepository) InsertBudgetPeriod(ctx context.Context, b *core.BudgetPeriod) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_periods (owner_id, category, limit_cents, month, year, icon, is_template, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, category, month, year) DO NOTHING`,
		b.OwnerID, b.Category, b.Limit.Cents, b.Month, b.Year, b.Icon,
		boolToInt(b.IsTemplate), time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("insert budget period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert budget period rows: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err == nil {
			b.ID = id
		}
	}
	return n == 1, nil
}

func monthBounds(month, year int) (int64, int64) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from.Unix(), from.AddDate(0, 1, 0).Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
