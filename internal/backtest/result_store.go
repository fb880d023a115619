package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	_ "modernc.org/sqlite"
)

// ResultStore 管理 backtest_runs/trades/equity 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			initial_balance REAL NOT NULL,
			final_balance REAL NOT NULL DEFAULT 0,
			final_value REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			annualized_return REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			sharpe REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			profit_factor REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			logs_json TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			cost REAL NOT NULL,
			realized_pnl REAL,
			balance_after REAL NOT NULL,
			reason TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			value REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure result schema failed: %w", err)
		}
	}
	return nil
}

// SaveRun 在一个事务里写入运行记录、账目与权益曲线。
func (s *ResultStore) SaveRun(ctx context.Context, r *RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("result store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	defer tx.Rollback()

	logsJSON, err := json.Marshal(r.Logs)
	if err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	m := r.Metrics
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO backtest_runs
		(id, strategy_id, strategy_name, status, start_ts, end_ts,
		 initial_balance, final_balance, final_value, total_return,
		 annualized_return, max_drawdown, sharpe, win_rate, profit_factor,
		 total_trades, logs_json, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.StrategyID, r.Strategy, r.Status, r.StartTs, r.EndTs,
		m.InitialBalance, m.FinalBalance, m.FinalValue, m.TotalReturn,
		m.AnnualizedReturn, m.MaxDrawdown, m.Sharpe, m.WinRate, m.ProfitFactor,
		m.TotalTrades, string(logsJSON), r.CreatedAt)
	if err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_trades WHERE run_id = ?`, r.ID); err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_equity WHERE run_id = ?`, r.ID); err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	for _, tr := range r.Trades {
		var pnl sql.NullFloat64
		if tr.RealizedPnl != nil {
			pnl = sql.NullFloat64{Float64: *tr.RealizedPnl, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO backtest_trades
			(run_id, ts, exchange, symbol, side, price, amount, cost, realized_pnl, balance_after, reason)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			r.ID, tr.Timestamp, tr.Exchange, tr.Symbol, tr.Side,
			tr.Price, tr.Amount, tr.Cost, pnl, tr.BalanceAfter, tr.Reason)
		if err != nil {
			return &market.StoreError{Op: "save_run", Err: err}
		}
	}
	for _, pt := range r.Equity {
		if _, err := tx.ExecContext(ctx, `INSERT INTO backtest_equity (run_id, ts, value) VALUES (?,?,?)`,
			r.ID, pt.Timestamp, pt.Value); err != nil {
			return &market.StoreError{Op: "save_run", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &market.StoreError{Op: "save_run", Err: err}
	}
	return nil
}

// GetRun 取回完整运行结果。
func (s *ResultStore) GetRun(ctx context.Context, id string) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store closed")
	}
	r := &RunResult{}
	var logsJSON sql.NullString
	m := &r.Metrics
	err := s.db.QueryRowContext(ctx, `SELECT id, strategy_id, strategy_name, status,
		start_ts, end_ts, initial_balance, final_balance, final_value, total_return,
		annualized_return, max_drawdown, sharpe, win_rate, profit_factor,
		total_trades, logs_json, created_at
		FROM backtest_runs WHERE id = ?`, id).Scan(
		&r.ID, &r.StrategyID, &r.Strategy, &r.Status,
		&r.StartTs, &r.EndTs, &m.InitialBalance, &m.FinalBalance, &m.FinalValue, &m.TotalReturn,
		&m.AnnualizedReturn, &m.MaxDrawdown, &m.Sharpe, &m.WinRate, &m.ProfitFactor,
		&m.TotalTrades, &logsJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, &market.StoreError{Op: "get_run", Err: err}
	}
	if logsJSON.Valid && logsJSON.String != "" {
		_ = json.Unmarshal([]byte(logsJSON.String), &r.Logs)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT ts, exchange, symbol, side, price, amount, cost,
		realized_pnl, balance_after, reason FROM backtest_trades WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, &market.StoreError{Op: "get_run", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var tr TradeRecord
		var pnl sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&tr.Timestamp, &tr.Exchange, &tr.Symbol, &tr.Side,
			&tr.Price, &tr.Amount, &tr.Cost, &pnl, &tr.BalanceAfter, &reason); err != nil {
			return nil, &market.StoreError{Op: "get_run", Err: err}
		}
		if pnl.Valid {
			v := pnl.Float64
			tr.RealizedPnl = &v
		}
		tr.Reason = reason.String
		r.Trades = append(r.Trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, &market.StoreError{Op: "get_run", Err: err}
	}

	eqRows, err := s.db.QueryContext(ctx, `SELECT ts, value FROM backtest_equity WHERE run_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, &market.StoreError{Op: "get_run", Err: err}
	}
	defer eqRows.Close()
	for eqRows.Next() {
		var pt EquityPoint
		if err := eqRows.Scan(&pt.Timestamp, &pt.Value); err != nil {
			return nil, &market.StoreError{Op: "get_run", Err: err}
		}
		r.Equity = append(r.Equity, pt)
	}
	return r, eqRows.Err()
}

// RunSummary 列表视图用的精简行。
type RunSummary struct {
	ID          string  `json:"id"`
	StrategyID  string  `json:"strategyId"`
	Strategy    string  `json:"strategy"`
	Status      string  `json:"status"`
	StartTs     int64   `json:"startTs"`
	EndTs       int64   `json:"endTs"`
	TotalReturn float64 `json:"totalReturn"`
	TotalTrades int     `json:"totalTrades"`
	CreatedAt   int64   `json:"createdAt"`
}

// ListRuns 按创建时间倒序返回最近 limit 条运行。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store closed")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, strategy_id, strategy_name, status,
		start_ts, end_ts, total_return, total_trades, created_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &market.StoreError{Op: "list_runs", Err: err}
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.Strategy, &r.Status,
			&r.StartTs, &r.EndTs, &r.TotalReturn, &r.TotalTrades, &r.CreatedAt); err != nil {
			return nil, &market.StoreError{Op: "list_runs", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun 删除运行及其关联数据。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("result store closed")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return &market.StoreError{Op: "delete_run", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return market.ErrNotFound
	}
	return nil
}
