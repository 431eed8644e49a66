// Package provider defines the lifecycle contract every broker integration
// implements and the resilient execution template shared by all of them.
// Broker-specific transports plug in as Adapters; callers only ever see the
// Provider interface and the uniform response envelope.
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finkor/brokergate/internal/validation"
	"github.com/finkor/brokergate/pkg/models"
)

// State is the provider lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// OperationClass buckets operations so each class gets its own circuit
// breaker. Breakers are never shared across providers.
type OperationClass string

const (
	ClassAuth       OperationClass = "auth"
	ClassMarketData OperationClass = "market_data"
	ClassTrading    OperationClass = "trading"
	ClassAccount    OperationClass = "account"
)

// Config is the structural configuration every provider accepts. The
// credential key set inside Credentials is broker-specific and validated by
// the adapter, not here.
type Config struct {
	Credentials   map[string]string `mapstructure:"credentials" yaml:"credentials" validate:"required,min=1"`
	Endpoints     map[string]string `mapstructure:"endpoints" yaml:"endpoints" validate:"required,min=1"`
	Environment   string            `mapstructure:"environment" yaml:"environment" validate:"required,oneof=development production"`
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts" yaml:"retry_attempts"`
}

// HealthStatus is the on-demand provider health snapshot.
type HealthStatus struct {
	Connected     bool          `json:"connected"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	APIStatus     string        `json:"api_status"` // operational | degraded | down
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
}

const (
	APIStatusOperational = "operational"
	APIStatusDegraded    = "degraded"
	APIStatusDown        = "down"
)

// Provider is the unified contract callers program against. Every operation
// returns the shared envelope; errors inside it are always taxonomy errors.
type Provider interface {
	ID() string
	Capabilities() models.Capabilities
	State() State

	Initialize(ctx context.Context, cfg Config) error
	Authenticate(ctx context.Context, credentials map[string]string) error
	Disconnect(ctx context.Context) error
	Health(ctx context.Context) HealthStatus

	GetQuote(ctx context.Context, symbol string) *models.Response
	GetOrderBook(ctx context.Context, symbol string) *models.Response
	GetCandles(ctx context.Context, symbol, interval string, limit int) *models.Response

	PlaceOrder(ctx context.Context, order *models.Order, vctx validation.Context) *models.Response
	ModifyOrder(ctx context.Context, brokerOrderID string, price decimal.Decimal, quantity int64, vctx validation.Context) *models.Response
	CancelOrder(ctx context.Context, brokerOrderID string) *models.Response
	GetOrder(ctx context.Context, brokerOrderID string) *models.Response

	GetPositions(ctx context.Context) *models.Response
	GetBalances(ctx context.Context) *models.Response

	Subscribe(ctx context.Context, symbols []string, cb Callbacks) (uuid.UUID, error)
	Unsubscribe(ctx context.Context, id uuid.UUID) error
}

// Adapter is the broker-specific half of a provider: raw transport calls with
// no resilience, validation, or envelope concerns. Implementations translate
// their broker's error codes into taxonomy errors before returning.
type Adapter interface {
	Name() string
	Capabilities() models.Capabilities

	// Open prepares the transport from validated config. It must not
	// authenticate.
	Open(ctx context.Context, cfg Config) error
	Login(ctx context.Context, credentials map[string]string) error
	Logout(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) (time.Duration, error)

	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	OrderBook(ctx context.Context, symbol string) (*models.OrderBook, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	SubmitOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	AmendOrder(ctx context.Context, brokerOrderID string, price decimal.Decimal, quantity int64) (*models.Order, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	FetchOrder(ctx context.Context, brokerOrderID string) (*models.Order, error)

	Positions(ctx context.Context) ([]models.Position, error)
	Balances(ctx context.Context) ([]models.Balance, error)

	// StreamSubscribe/StreamUnsubscribe manage the broker-side symbol
	// registration; delivery happens through the sink handed to the base.
	StreamSubscribe(ctx context.Context, symbols []string) error
	StreamUnsubscribe(ctx context.Context, symbols []string) error
}
