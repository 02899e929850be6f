package persistence

import (
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	contract_id TEXT,
	direction TEXT NOT NULL,
	kind TEXT NOT NULL,
	barrier INTEGER,
	stake DOUBLE NOT NULL,
	payout DOUBLE NOT NULL,
	policy TEXT,
	result TEXT NOT NULL,
	profit DOUBLE,
	placed_at TIMESTAMP NOT NULL,
	settled_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
	account_id TEXT PRIMARY KEY,
	credential_token TEXT NOT NULL,
	currency TEXT NOT NULL,
	mode TEXT NOT NULL,
	risk_profile TEXT NOT NULL,
	base_stake DOUBLE NOT NULL,
	profit_target DOUBLE NOT NULL,
	stop_loss_limit DOUBLE NOT NULL,
	shield_enabled BOOLEAN NOT NULL,
	balance DOUBLE NOT NULL,
	active BOOLEAN NOT NULL,
	stop_reason TEXT,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS session_logs (
	account_id TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	logged_at TIMESTAMP NOT NULL
);
`

// DuckDBGateway is the embedded-store Gateway implementation.
type DuckDBGateway struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBGateway opens (or creates) the database at path and ensures the
// schema. An empty path opens an in-memory store.
func NewDuckDBGateway(path string, log *logger.Logger) (*DuckDBGateway, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStorageUnavailable, err, "failed to open store at %q", path)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeStorageUnavailable, "failed to ensure schema", err)
	}

	return &DuckDBGateway{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// RecordOrder implements Gateway.
func (g *DuckDBGateway) RecordOrder(order OrderRecord) error {
	query, args, err := g.sq.
		Insert("orders").
		Columns("id", "account_id", "mode", "contract_id", "direction", "kind",
			"barrier", "stake", "payout", "policy", "result", "profit",
			"placed_at", "settled_at").
		Values(order.ID, order.AccountID, order.Mode,
			sqlString(order.ContractID), string(order.Direction), string(order.Kind),
			order.Barrier, order.Stake.InexactFloat64(), order.Payout.InexactFloat64(),
			order.Policy, string(order.Result), order.Profit.InexactFloat64(),
			order.PlacedAt, sqlTime(order.SettledAt)).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build order insert", err)
	}

	if _, err := g.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to record order", err)
	}

	return nil
}

// SettleOrder implements Gateway.
func (g *DuckDBGateway) SettleOrder(orderID string, result OrderResult, profit decimal.Decimal, settledAt time.Time) error {
	query, args, err := g.sq.
		Update("orders").
		Set("result", string(result)).
		Set("profit", profit.InexactFloat64()).
		Set("settled_at", settledAt).
		Where(squirrel.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build order update", err)
	}

	if _, err := g.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to settle order", err)
	}

	return nil
}

// SaveSession implements Gateway.
func (g *DuckDBGateway) SaveSession(record SessionRecord) error {
	// DuckDB upsert keyed on account_id.
	query := `
		INSERT OR REPLACE INTO sessions
			(account_id, credential_token, currency, mode, risk_profile,
			 base_stake, profit_target, stop_loss_limit, shield_enabled,
			 balance, active, stop_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	req := record.Request

	_, err := g.db.Exec(query,
		req.AccountID, req.CredentialToken, req.Currency, req.Mode,
		string(req.RiskProfile), req.BaseStake, req.ProfitTarget,
		req.StopLossLimit, req.ShieldEnabled,
		record.Balance.InexactFloat64(), record.Active, record.StopReason,
		record.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to save session", err)
	}

	return nil
}

// UpdateSessionBalance implements Gateway.
func (g *DuckDBGateway) UpdateSessionBalance(accountID string, balance decimal.Decimal) error {
	query, args, err := g.sq.
		Update("sessions").
		Set("balance", balance.InexactFloat64()).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build balance update", err)
	}

	if _, err := g.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to update balance", err)
	}

	return nil
}

// StopSession implements Gateway.
func (g *DuckDBGateway) StopSession(accountID string, reason string) error {
	query, args, err := g.sq.
		Update("sessions").
		Set("active", false).
		Set("stop_reason", reason).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build stop update", err)
	}

	if _, err := g.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to stop session", err)
	}

	return nil
}

// ReadActiveSessions implements Gateway.
func (g *DuckDBGateway) ReadActiveSessions() ([]SessionRecord, error) {
	query, args, err := g.sq.
		Select("account_id", "credential_token", "currency", "mode",
			"risk_profile", "base_stake", "profit_target", "stop_loss_limit",
			"shield_enabled", "balance", "updated_at").
		From("sessions").
		Where(squirrel.Eq{"active": true}).
		OrderBy("account_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build session query", err)
	}

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read active sessions", err)
	}
	defer rows.Close()

	var records []SessionRecord

	for rows.Next() {
		var (
			req     types.ActivationRequest
			profile string
			balance float64
			updated time.Time
		)

		err := rows.Scan(&req.AccountID, &req.CredentialToken, &req.Currency,
			&req.Mode, &profile, &req.BaseStake, &req.ProfitTarget,
			&req.StopLossLimit, &req.ShieldEnabled, &balance, &updated)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan session row", err)
		}

		req.RiskProfile = types.RiskProfile(profile)
		req.InitialBalance = balance

		records = append(records, SessionRecord{
			Request:   req,
			Balance:   decimal.NewFromFloat(balance).Round(2),
			Active:    true,
			UpdatedAt: updated,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate session rows", err)
	}

	return records, nil
}

// AppendLog implements Gateway.
func (g *DuckDBGateway) AppendLog(accountID string, level string, message string) error {
	query, args, err := g.sq.
		Insert("session_logs").
		Columns("account_id", "level", "message", "logged_at").
		Values(accountID, level, message, time.Now()).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build log insert", err)
	}

	if _, err := g.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to append log", err)
	}

	return nil
}

// Close implements Gateway.
func (g *DuckDBGateway) Close() error {
	g.logger.Debug("closing persistence gateway", zap.String("driver", "duckdb"))

	return g.db.Close()
}

// sqlTime converts an optional timestamp to its nullable column value.
func sqlTime(t optional.Option[time.Time]) any {
	if t.IsNone() {
		return nil
	}

	return t.Unwrap()
}

// sqlString converts an optional string to its nullable column value.
func sqlString(s optional.Option[string]) any {
	if s.IsNone() {
		return nil
	}

	return s.Unwrap()
}
