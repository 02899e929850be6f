package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/types"
)

type DuckDBGatewayTestSuite struct {
	suite.Suite
	gateway *DuckDBGateway
}

func TestDuckDBGatewaySuite(t *testing.T) {
	suite.Run(t, new(DuckDBGatewayTestSuite))
}

func (s *DuckDBGatewayTestSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "ticktrader.db")

	gateway, err := NewDuckDBGateway(path, logger.NewNopLogger())
	s.Require().NoError(err)

	s.gateway = gateway
}

func (s *DuckDBGatewayTestSuite) TearDownTest() {
	s.Require().NoError(s.gateway.Close())
}

func activation(accountID string) types.ActivationRequest {
	return types.ActivationRequest{
		AccountID:       accountID,
		CredentialToken: "tok-" + accountID,
		Currency:        "USD",
		Mode:            "zeus",
		RiskProfile:     types.RiskProfileModerate,
		BaseStake:       0.35,
		ProfitTarget:    100,
		StopLossLimit:   50,
		ShieldEnabled:   true,
		InitialBalance:  500,
	}
}

func (s *DuckDBGatewayTestSuite) TestOrderJournalRoundTrip() {
	order := OrderRecord{
		ID:        uuid.New().String(),
		AccountID: "acc-1",
		Mode:      "zeus",
		Direction: types.DirectionEven,
		Kind:      types.ContractKindParity,
		Stake:     decimal.NewFromFloat(0.35),
		Payout:    decimal.NewFromFloat(0.67),
		Policy:    "parity_run",
		Result:    OrderResultOpen,
		PlacedAt:  time.Now(),
	}

	s.Require().NoError(s.gateway.RecordOrder(order))
	s.Require().NoError(s.gateway.SettleOrder(order.ID, OrderResultWon,
		decimal.NewFromFloat(0.32), time.Now()))

	var result string
	var profit float64

	err := s.gateway.db.QueryRow(
		`SELECT result, profit FROM orders WHERE id = $1`, order.ID).
		Scan(&result, &profit)
	s.Require().NoError(err)
	s.Equal(string(OrderResultWon), result)
	s.InDelta(0.32, profit, 1e-9)
}

func (s *DuckDBGatewayTestSuite) TestOrderWithContractID() {
	order := OrderRecord{
		ID:         uuid.New().String(),
		AccountID:  "acc-1",
		Mode:       "zeus",
		ContractID: optional.Some("900123"),
		Direction:  types.DirectionUnder,
		Kind:       types.ContractKindUnderOver,
		Barrier:    4,
		Stake:      decimal.NewFromFloat(1.09),
		Payout:     decimal.NewFromFloat(1.31),
		Result:     OrderResultOpen,
		PlacedAt:   time.Now(),
	}

	s.Require().NoError(s.gateway.RecordOrder(order))

	var contractID string
	err := s.gateway.db.QueryRow(
		`SELECT contract_id FROM orders WHERE id = $1`, order.ID).
		Scan(&contractID)
	s.Require().NoError(err)
	s.Equal("900123", contractID)
}

func (s *DuckDBGatewayTestSuite) TestActiveSessionRehydration() {
	for _, id := range []string{"acc-1", "acc-2", "acc-3"} {
		s.Require().NoError(s.gateway.SaveSession(SessionRecord{
			Request:   activation(id),
			Balance:   decimal.NewFromInt(500),
			Active:    true,
			UpdatedAt: time.Now(),
		}))
	}

	s.Require().NoError(s.gateway.UpdateSessionBalance("acc-2", decimal.NewFromFloat(512.40)))
	s.Require().NoError(s.gateway.StopSession("acc-3", string(types.StopReasonProfitTarget)))

	records, err := s.gateway.ReadActiveSessions()
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	s.Equal("acc-1", records[0].Request.AccountID)
	s.Equal("acc-2", records[1].Request.AccountID)
	s.True(records[1].Balance.Equal(decimal.NewFromFloat(512.40)),
		"got %s", records[1].Balance)
	s.Equal(types.RiskProfileModerate, records[0].Request.RiskProfile)
}

func (s *DuckDBGatewayTestSuite) TestSaveSessionUpserts() {
	record := SessionRecord{
		Request:   activation("acc-1"),
		Balance:   decimal.NewFromInt(500),
		Active:    true,
		UpdatedAt: time.Now(),
	}

	s.Require().NoError(s.gateway.SaveSession(record))

	record.Balance = decimal.NewFromInt(480)
	s.Require().NoError(s.gateway.SaveSession(record))

	records, err := s.gateway.ReadActiveSessions()
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.True(records[0].Balance.Equal(decimal.NewFromInt(480)))
}

func (s *DuckDBGatewayTestSuite) TestAppendLog() {
	s.Require().NoError(s.gateway.AppendLog("acc-1", "INFO", "session activated"))
	s.Require().NoError(s.gateway.AppendLog("acc-1", "WARN", "proposal retry"))

	var count int
	err := s.gateway.db.QueryRow(
		`SELECT COUNT(*) FROM session_logs WHERE account_id = $1`, "acc-1").
		Scan(&count)
	s.Require().NoError(err)
	s.Equal(2, count)
}
