package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrStore marks any persistence failure.
	ErrStore = errors.New("storage failure")
)

const (
	lastBlockSQL = `SELECT COALESCE(MAX(block_number), 0) FROM swaps WHERE pair_address = $1;`

	insertSwapSQL = `INSERT INTO swaps (
        tx_hash,
        block_number,
        pair_address,
        pair_name,
        sender,
        amount0_in,
        amount1_in,
        amount0_out,
        amount1_out,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (tx_hash) DO NOTHING;`

	refreshPairStatsSQL = `INSERT INTO pair_stats (pair_address, pair_name, total_swaps, unique_traders, last_updated)
    SELECT $1, $2, COUNT(*), COUNT(DISTINCT sender), $3
    FROM swaps
    WHERE pair_address = $1
    ON CONFLICT (pair_address) DO UPDATE
    SET pair_name      = EXCLUDED.pair_name,
        total_swaps    = EXCLUDED.total_swaps,
        unique_traders = EXCLUDED.unique_traders,
        last_updated   = EXCLUDED.last_updated
    RETURNING pair_address, pair_name, total_swaps, unique_traders, last_updated;`

	swapColumns = `tx_hash,
        block_number,
        pair_address,
        pair_name,
        sender,
        amount0_in::text,
        amount1_in::text,
        amount0_out::text,
        amount1_out::text,
        created_at`

	listSwapsBetweenSQL = `SELECT ` + swapColumns + `
    FROM swaps
    WHERE ($1 = '' OR pair_address = $1)
      AND created_at > $2
      AND created_at <= $3
    ORDER BY created_at, block_number;`

	listRecentSwapsSQL = `SELECT ` + swapColumns + `
    FROM swaps
    ORDER BY block_number DESC
    LIMIT $1;`

	listPairStatsSQL = `SELECT pair_address, pair_name, total_swaps, unique_traders, last_updated
    FROM pair_stats
    ORDER BY pair_name;`

	summarizeSQL = `SELECT COUNT(*), COUNT(DISTINCT sender), MAX(created_at) FROM swaps;`

	insertAlertSQL = `INSERT INTO alerts (
        pair_address,
        pair_name,
        alert_type,
        description,
        score,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, pair_address, pair_name, alert_type, description, score, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        pair_address,
        pair_name,
        alert_type,
        description,
        score,
        created_at
    FROM alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	insertNonceSQL = `INSERT INTO nonces (address, nonce, created_at) VALUES ($1, $2, $3);`

	findNonceSQL = `SELECT address, nonce, created_at
    FROM nonces
    WHERE address = $1 AND nonce = $2 AND created_at > $3;`

	deleteNonceSQL = `DELETE FROM nonces WHERE address = $1 AND nonce = $2;`

	deleteNoncesBeforeSQL = `DELETE FROM nonces WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SwapStore persists swaps and derives per-pair statistics.
type SwapStore interface {
	LastBlock(ctx context.Context, pairAddress string) (uint64, error)
	// InsertSwap reports false, without error, when the tx hash is already stored.
	InsertSwap(ctx context.Context, swap SwapRecord) (bool, error)
	RefreshPairStats(ctx context.Context, pairAddress, pairName string, at time.Time) (PairStats, error)
	// ListSwapsBetween returns swaps with from < created_at <= to. An empty pair selects all pairs.
	ListSwapsBetween(ctx context.Context, pairAddress string, from, to time.Time) ([]SwapRecord, error)
	ListRecentSwaps(ctx context.Context, limit int) ([]SwapRecord, error)
}

// StatsStore exposes read-side aggregates.
type StatsStore interface {
	ListPairStats(ctx context.Context) ([]PairStats, error)
	Summarize(ctx context.Context) (Summary, error)
}

// AlertStore defines append-only alert persistence.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert Alert) (Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
}

// NonceStore keeps login challenges.
type NonceStore interface {
	InsertNonce(ctx context.Context, nonce Nonce) error
	// FindNonce returns the nonce if it was created after notBefore.
	FindNonce(ctx context.Context, address, value string, notBefore time.Time) (Nonce, bool, error)
	// DeleteNonce reports whether this call removed the nonce. Only one caller can observe true.
	DeleteNonce(ctx context.Context, address, value string) (bool, error)
	DeleteNoncesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is the full persistence surface used by the application.
type Repository interface {
	SwapStore
	StatsStore
	AlertStore
	NonceStore
}

// Store implements Repository on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, wrap("acquire connection", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, wrap("try advisory lock", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// LastBlock returns the highest stored block for the pair, 0 if none.
func (s *Store) LastBlock(ctx context.Context, pairAddress string) (uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var block int64
	if err := pool.QueryRow(ctx, lastBlockSQL, pairAddress).Scan(&block); err != nil {
		return 0, wrap("last block", err)
	}
	return uint64(block), nil
}

// InsertSwap stores a swap, ignoring duplicates on tx_hash.
func (s *Store) InsertSwap(ctx context.Context, swap SwapRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertSwapSQL,
		swap.TxHash,
		int64(swap.BlockNumber),
		swap.PairAddress,
		swap.PairName,
		swap.Sender,
		swap.Amount0In.String(),
		swap.Amount1In.String(),
		swap.Amount0Out.String(),
		swap.Amount1Out.String(),
		swap.CreatedAt,
	)
	if execErr != nil {
		return false, wrap("insert swap", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// RefreshPairStats recomputes the pair aggregate from every stored swap and upserts it.
func (s *Store) RefreshPairStats(ctx context.Context, pairAddress, pairName string, at time.Time) (PairStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return PairStats{}, err
	}

	var stats PairStats
	if scanErr := pool.QueryRow(ctx, refreshPairStatsSQL, pairAddress, pairName, at).Scan(
		&stats.PairAddress,
		&stats.PairName,
		&stats.TotalSwaps,
		&stats.UniqueTraders,
		&stats.LastUpdated,
	); scanErr != nil {
		return PairStats{}, wrap("refresh pair stats", scanErr)
	}
	return stats, nil
}

// ListSwapsBetween lists swaps ingested within (from, to].
func (s *Store) ListSwapsBetween(ctx context.Context, pairAddress string, from, to time.Time) ([]SwapRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSwapsBetweenSQL, pairAddress, from, to)
	if queryErr != nil {
		return nil, wrap("list swaps between", queryErr)
	}
	return collectSwaps(rows, 0)
}

// ListRecentSwaps lists the newest swaps by block.
func (s *Store) ListRecentSwaps(ctx context.Context, limit int) ([]SwapRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSwapsSQL, limit)
	if queryErr != nil {
		return nil, wrap("list recent swaps", queryErr)
	}
	return collectSwaps(rows, limit)
}

// ListPairStats returns every stored pair aggregate.
func (s *Store) ListPairStats(ctx context.Context) ([]PairStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPairStatsSQL)
	if queryErr != nil {
		return nil, wrap("list pair stats", queryErr)
	}
	defer rows.Close()

	stats := make([]PairStats, 0)
	for rows.Next() {
		var rec PairStats
		if err := rows.Scan(&rec.PairAddress, &rec.PairName, &rec.TotalSwaps, &rec.UniqueTraders, &rec.LastUpdated); err != nil {
			return nil, wrap("scan pair stats", err)
		}
		stats = append(stats, rec)
	}
	if rows.Err() != nil {
		return nil, wrap("list pair stats", rows.Err())
	}
	return stats, nil
}

// Summarize counts all swaps and distinct senders.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	pool, err := s.getPool()
	if err != nil {
		return Summary{}, err
	}

	var (
		summary Summary
		last    sql.NullTime
	)
	if scanErr := pool.QueryRow(ctx, summarizeSQL).Scan(&summary.Swaps, &summary.Traders, &last); scanErr != nil {
		return Summary{}, wrap("summarize swaps", scanErr)
	}
	if last.Valid {
		ts := last.Time
		summary.LastIngest = &ts
	}
	return summary, nil
}

// InsertAlert persists an alert.
func (s *Store) InsertAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.PairAddress,
		alert.PairName,
		string(alert.Type),
		alert.Description,
		alert.Score,
		alert.CreatedAt,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return Alert{}, wrap("insert alert", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, wrap("list recent alerts", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, wrap("scan alert", err)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, wrap("list recent alerts", rows.Err())
	}
	return alerts, nil
}

// InsertNonce stores a fresh login challenge.
func (s *Store) InsertNonce(ctx context.Context, nonce Nonce) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertNonceSQL, nonce.Address, nonce.Value, nonce.CreatedAt); execErr != nil {
		return wrap("insert nonce", execErr)
	}
	return nil
}

// FindNonce looks up an unexpired nonce.
func (s *Store) FindNonce(ctx context.Context, address, value string, notBefore time.Time) (Nonce, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Nonce{}, false, err
	}

	var n Nonce
	scanErr := pool.QueryRow(ctx, findNonceSQL, address, value, notBefore).Scan(&n.Address, &n.Value, &n.CreatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Nonce{}, false, nil
	}
	if scanErr != nil {
		return Nonce{}, false, wrap("find nonce", scanErr)
	}
	return n, true, nil
}

// DeleteNonce removes a nonce; the row count makes concurrent consumption exclusive.
func (s *Store) DeleteNonce(ctx context.Context, address, value string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteNonceSQL, address, value)
	if execErr != nil {
		return false, wrap("delete nonce", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteNoncesBefore garbage-collects expired nonces.
func (s *Store) DeleteNoncesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteNoncesBeforeSQL, cutoff)
	if execErr != nil {
		return 0, wrap("delete nonces before", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSwaps(rows pgx.Rows, capacity int) ([]SwapRecord, error) {
	defer rows.Close()

	swaps := make([]SwapRecord, 0, capacity)
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, wrap("scan swap", err)
		}
		swaps = append(swaps, swap)
	}
	if rows.Err() != nil {
		return nil, wrap("iterate swaps", rows.Err())
	}
	return swaps, nil
}

func scanSwap(row pgx.Row) (SwapRecord, error) {
	var (
		swap    SwapRecord
		block   int64
		amounts [4]string
	)

	if err := row.Scan(
		&swap.TxHash,
		&block,
		&swap.PairAddress,
		&swap.PairName,
		&swap.Sender,
		&amounts[0],
		&amounts[1],
		&amounts[2],
		&amounts[3],
		&swap.CreatedAt,
	); err != nil {
		return SwapRecord{}, err
	}
	swap.BlockNumber = uint64(block)

	targets := []*decimal.Decimal{&swap.Amount0In, &swap.Amount1In, &swap.Amount0Out, &swap.Amount1Out}
	for i, raw := range amounts {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return SwapRecord{}, fmt.Errorf("parse amount %d: %w", i, err)
		}
		*targets[i] = parsed
	}
	return swap, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		rec       Alert
		alertType string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.PairAddress,
		&rec.PairName,
		&alertType,
		&rec.Description,
		&rec.Score,
		&rec.CreatedAt,
	); err != nil {
		return Alert{}, err
	}
	rec.Type = AlertType(alertType)
	return rec, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
