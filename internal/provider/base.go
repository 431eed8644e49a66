package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finkor/brokergate/internal/compliance"
	"github.com/finkor/brokergate/internal/metrics"
	"github.com/finkor/brokergate/internal/resilience"
	"github.com/finkor/brokergate/internal/validation"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

const (
	defaultOpTimeout = 10 * time.Second
	healthCacheTTL   = 5 * time.Second
)

// BaseProvider implements the Provider contract over a broker Adapter. It
// owns the per-class circuit breakers, the retry executor, the recovery
// manager, the rate limiters derived from the adapter's capabilities, and the
// subscription table. One instance per connected broker.
type BaseProvider struct {
	id       string
	adapter  Adapter
	pipeline *validation.Pipeline
	logger   *zap.Logger
	metrics  *metrics.GatewayMetrics

	cfg      Config
	validate *validator.Validate
	state    int32 // State

	// lifecycleMu serializes operation admission against Disconnect: an
	// operation holds the read side across its state check and WaitGroup
	// Add, so Disconnect's write-side state flip cannot land between them
	// and Wait observes every admitted operation.
	lifecycleMu sync.RWMutex

	breakers map[OperationClass]*resilience.CircuitBreaker
	retry    *resilience.RetryExecutor
	policy   resilience.RetryPolicy
	recovery *resilience.RecoveryManager

	tradeLimiter *rate.Limiter
	queryLimiter *rate.Limiter

	subs *SubscriptionTable

	inflight sync.WaitGroup

	healthMu  sync.RWMutex
	health    HealthStatus
	healthAt  time.Time
	heartbeat int64 // unix nano
}

// NewBaseProvider wires an adapter into the resilient template. The pipeline
// gates every trading operation; metrics may be nil.
func NewBaseProvider(id string, adapter Adapter, pipeline *validation.Pipeline, m *metrics.GatewayMetrics, logger *zap.Logger) *BaseProvider {
	p := &BaseProvider{
		id:       id,
		adapter:  adapter,
		pipeline: pipeline,
		logger:   logger.With(zap.String("provider", id)),
		metrics:  m,
		validate: validator.New(),
		state:    int32(StateUninitialized),
		breakers: make(map[OperationClass]*resilience.CircuitBreaker),
		retry:    resilience.NewRetryExecutor(logger),
		policy:   resilience.DefaultRetryPolicy(),
		subs:     NewSubscriptionTable(logger),
	}
	for _, class := range []OperationClass{ClassAuth, ClassMarketData, ClassTrading, ClassAccount} {
		p.breakers[class] = resilience.NewCircuitBreaker(
			resilience.DefaultBreakerConfig(id+"/"+string(class)), p.logger)
	}
	p.recovery = resilience.NewRecoveryManager(resilience.RecoveryHooks{
		Reauthenticate: func(ctx context.Context) error {
			return adapter.Login(ctx, p.cfg.Credentials)
		},
		Reconnect: adapter.Reconnect,
	}, p.logger)

	caps := adapter.Capabilities()
	p.tradeLimiter = newLimiter(caps.RateLimits.OrdersPerSecond, caps.RateLimits.Burst)
	p.queryLimiter = newLimiter(caps.RateLimits.QueriesPerSecond, caps.RateLimits.Burst)
	return p
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (p *BaseProvider) ID() string                        { return p.id }
func (p *BaseProvider) Capabilities() models.Capabilities { return p.adapter.Capabilities() }

func (p *BaseProvider) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *BaseProvider) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

// Initialize validates the configuration shape and opens the transport. It
// never authenticates.
func (p *BaseProvider) Initialize(ctx context.Context, cfg Config) error {
	if s := p.State(); s != StateUninitialized && s != StateDisconnected {
		return gwerrors.New(gwerrors.KindConfiguration, "InvalidLifecycle",
			"initialize called in state "+s.String()).WithProvider(p.id)
	}

	if err := p.validate.Struct(cfg); err != nil {
		return gwerrors.Wrap(gwerrors.KindConfiguration, "InvalidConfiguration", err).WithProvider(p.id)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpTimeout
	}
	if cfg.RetryAttempts > 0 {
		p.policy.MaxAttempts = cfg.RetryAttempts
	}
	p.cfg = cfg

	if err := p.adapter.Open(ctx, cfg); err != nil {
		return p.normalize(err)
	}

	p.setState(StateInitialized)
	p.logger.Info("provider initialized", zap.String("environment", cfg.Environment))
	return nil
}

// Authenticate logs in through the auth breaker. On failure it runs the
// recovery manager once before surfacing a terminal AuthenticationFailed.
func (p *BaseProvider) Authenticate(ctx context.Context, credentials map[string]string) error {
	if s := p.State(); s != StateInitialized && s != StateAuthenticated {
		return gwerrors.New(gwerrors.KindConfiguration, "InvalidLifecycle",
			"authenticate called in state "+s.String()).WithProvider(p.id)
	}
	if len(credentials) == 0 {
		credentials = p.cfg.Credentials
	}

	breaker := p.breakers[ClassAuth]
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return p.adapter.Login(ctx, credentials)
	})
	if err != nil && gwerrors.KindOf(err) != gwerrors.KindCircuitOpen && p.recovery.Recover(ctx, err) {
		err = breaker.Execute(ctx, func(ctx context.Context) error {
			return p.adapter.Login(ctx, credentials)
		})
	}
	if err != nil {
		p.logger.Warn("authentication failed", zap.Error(err))
		if gwerrors.KindOf(err) == gwerrors.KindCircuitOpen {
			return p.normalize(err)
		}
		return gwerrors.Wrap(gwerrors.KindAuthentication, "AuthenticationFailed", err).WithProvider(p.id)
	}

	p.setState(StateAuthenticated)
	p.touchHeartbeat()
	p.logger.Info("provider authenticated")
	return nil
}

// guard is the shared execution template: precondition, rate limit, breaker
// around the whole retry sequence, one recovery-driven reissue, metrics, and
// error normalization.
func (p *BaseProvider) guard(ctx context.Context, class OperationClass, op string, fn func(context.Context) error) error {
	if err := p.admit(op); err != nil {
		return err
	}
	defer p.inflight.Done()

	limiter := p.queryLimiter
	if class == ClassTrading {
		limiter = p.tradeLimiter
	}
	if err := limiter.Wait(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.KindTimeout, "Cancelled", err).WithProvider(p.id)
	}

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	breaker := p.breakers[class]
	start := time.Now()

	err := breaker.Execute(opCtx, func(ctx context.Context) error {
		return p.retry.Do(ctx, p.policy, fn)
	})
	if err != nil && gwerrors.KindOf(err) != gwerrors.KindCircuitOpen && p.recovery.Recover(opCtx, err) {
		// Recovered: reissue the original call exactly once, no retry loop.
		err = breaker.Execute(opCtx, fn)
	}

	elapsed := time.Since(start)
	p.metrics.ObserveOp(p.id, op, elapsed)
	p.metrics.SetBreakerState(p.id, string(class), float64(breaker.State()))
	if err != nil {
		err = p.normalize(err)
		p.metrics.CountError(p.id, op, string(gwerrors.KindOf(err)))
		return err
	}

	p.touchHeartbeat()
	return nil
}

// admit registers one in-flight operation, or rejects it when the provider
// is not authenticated. The caller must Done the WaitGroup on success.
func (p *BaseProvider) admit(op string) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	if s := p.State(); s != StateAuthenticated {
		return gwerrors.New(gwerrors.KindAuthentication, "NotAuthenticated",
			"operation "+op+" requires an authenticated provider, state is "+s.String()).WithProvider(p.id)
	}
	p.inflight.Add(1)
	return nil
}

// normalize guarantees taxonomy errors tagged with this provider's id.
func (p *BaseProvider) normalize(err error) error {
	var ge *gwerrors.Error
	if gwerrors.As(err, &ge) {
		if ge.Provider == "" {
			ge.Provider = p.id
		}
		return ge
	}
	return gwerrors.Wrap(gwerrors.KindProvider, "ProviderError", err).WithProvider(p.id)
}

func (p *BaseProvider) respond(data interface{}, err error) *models.Response {
	if err != nil {
		var ge *gwerrors.Error
		if !gwerrors.As(p.normalize(err), &ge) {
			ge = gwerrors.Wrap(gwerrors.KindProvider, "ProviderError", err).WithProvider(p.id)
		}
		return models.Fail(p.id, ge)
	}
	return models.OK(p.id, data)
}

// GetQuote fetches a level-1 snapshot.
func (p *BaseProvider) GetQuote(ctx context.Context, symbol string) *models.Response {
	if symbol == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidSymbol", "symbol is required"))
	}
	var quote *models.Quote
	err := p.guard(ctx, ClassMarketData, "get_quote", func(ctx context.Context) error {
		var opErr error
		quote, opErr = p.adapter.Quote(ctx, symbol)
		return opErr
	})
	return p.respond(quote, err)
}

// GetOrderBook fetches a depth snapshot.
func (p *BaseProvider) GetOrderBook(ctx context.Context, symbol string) *models.Response {
	if symbol == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidSymbol", "symbol is required"))
	}
	var book *models.OrderBook
	err := p.guard(ctx, ClassMarketData, "get_orderbook", func(ctx context.Context) error {
		var opErr error
		book, opErr = p.adapter.OrderBook(ctx, symbol)
		return opErr
	})
	return p.respond(book, err)
}

// GetCandles fetches historical bars.
func (p *BaseProvider) GetCandles(ctx context.Context, symbol, interval string, limit int) *models.Response {
	if symbol == "" || interval == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidSymbol", "symbol and interval are required"))
	}
	if !p.adapter.Capabilities().HistoricalData {
		return p.respond(nil, gwerrors.New(gwerrors.KindNotSupported, "HistoricalDataUnsupported",
			"provider does not serve historical data"))
	}
	var candles []models.Candle
	err := p.guard(ctx, ClassMarketData, "get_candles", func(ctx context.Context) error {
		var opErr error
		candles, opErr = p.adapter.Candles(ctx, symbol, interval, limit)
		return opErr
	})
	return p.respond(candles, err)
}

// PlaceOrderResult pairs the confirmed order with any non-blocking advisories
// surfaced by the validation pipeline.
type PlaceOrderResult struct {
	Order      *models.Order         `json:"order"`
	Advisories []compliance.Advisory `json:"advisories,omitempty"`
}

// PlaceOrder gates the order through the validation pipeline and dispatches
// it only when overall-compliant. A non-compliant order never touches the
// broker transport.
func (p *BaseProvider) PlaceOrder(ctx context.Context, order *models.Order, vctx validation.Context) *models.Response {
	if order == nil {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidOrder", "order is required"))
	}
	caps := p.adapter.Capabilities()
	if !caps.SupportsExchange(order.Exchange) {
		return p.respond(nil, gwerrors.New(gwerrors.KindNotSupported, "ExchangeUnsupported",
			"provider does not trade on "+string(order.Exchange)))
	}
	if !caps.SupportsOrderType(order.Type) {
		return p.respond(nil, gwerrors.New(gwerrors.KindNotSupported, "OrderTypeUnsupported",
			"provider does not accept "+string(order.Type)+" orders"))
	}

	verdict := p.pipeline.Validate(ctx, order, vctx)
	if !verdict.OverallCompliant {
		p.metrics.CountValidation(p.id, "rejected")
		order.Status = models.StatusRejected
		err := gwerrors.New(gwerrors.KindValidation, "OrderValidationFailed",
			"order rejected by the validation pipeline").
			WithDetail("violations", verdict.Violations).
			WithDetail("advisories", verdict.Advisories)
		return p.respond(nil, err)
	}
	p.metrics.CountValidation(p.id, "accepted")

	var placed *models.Order
	err := p.guard(ctx, ClassTrading, "place_order", func(ctx context.Context) error {
		var opErr error
		placed, opErr = p.adapter.SubmitOrder(ctx, order)
		return opErr
	})
	if err != nil {
		return p.respond(nil, err)
	}

	if placed.Status == models.StatusPending && placed.Status.CanTransition(models.StatusConfirmed) {
		placed.Status = models.StatusConfirmed
	}
	placed.UpdatedAt = time.Now()
	return p.respond(&PlaceOrderResult{Order: placed, Advisories: verdict.Advisories}, nil)
}

// ModifyOrder re-validates the amended price/quantity before amending.
func (p *BaseProvider) ModifyOrder(ctx context.Context, brokerOrderID string, price decimal.Decimal, quantity int64, vctx validation.Context) *models.Response {
	if brokerOrderID == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidOrder", "broker order id is required"))
	}
	if !p.adapter.Capabilities().OrderModify {
		return p.respond(nil, gwerrors.New(gwerrors.KindNotSupported, "OrderModifyUnsupported",
			"provider does not amend orders"))
	}

	var existing *models.Order
	err := p.guard(ctx, ClassTrading, "fetch_order", func(ctx context.Context) error {
		var opErr error
		existing, opErr = p.adapter.FetchOrder(ctx, brokerOrderID)
		return opErr
	})
	if err != nil {
		return p.respond(nil, err)
	}
	if existing.Status.Terminal() {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "OrderTerminal",
			"order is in terminal state "+string(existing.Status)))
	}

	amended := *existing
	amended.Price = price
	amended.Quantity = quantity
	verdict := p.pipeline.Validate(ctx, &amended, vctx)
	if !verdict.OverallCompliant {
		p.metrics.CountValidation(p.id, "rejected")
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "OrderValidationFailed",
			"amended order rejected by the validation pipeline").
			WithDetail("violations", verdict.Violations))
	}

	var updated *models.Order
	err = p.guard(ctx, ClassTrading, "modify_order", func(ctx context.Context) error {
		var opErr error
		updated, opErr = p.adapter.AmendOrder(ctx, brokerOrderID, price, quantity)
		return opErr
	})
	return p.respond(updated, err)
}

// CancelOrder requests cancellation of an open order.
func (p *BaseProvider) CancelOrder(ctx context.Context, brokerOrderID string) *models.Response {
	if brokerOrderID == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidOrder", "broker order id is required"))
	}
	err := p.guard(ctx, ClassTrading, "cancel_order", func(ctx context.Context) error {
		return p.adapter.CancelOrder(ctx, brokerOrderID)
	})
	return p.respond(map[string]string{"order_id": brokerOrderID, "status": "cancel_requested"}, err)
}

// GetOrder fetches the broker's view of one order.
func (p *BaseProvider) GetOrder(ctx context.Context, brokerOrderID string) *models.Response {
	if brokerOrderID == "" {
		return p.respond(nil, gwerrors.New(gwerrors.KindValidation, "InvalidOrder", "broker order id is required"))
	}
	var order *models.Order
	err := p.guard(ctx, ClassTrading, "get_order", func(ctx context.Context) error {
		var opErr error
		order, opErr = p.adapter.FetchOrder(ctx, brokerOrderID)
		return opErr
	})
	return p.respond(order, err)
}

// GetPositions lists current holdings.
func (p *BaseProvider) GetPositions(ctx context.Context) *models.Response {
	var positions []models.Position
	err := p.guard(ctx, ClassAccount, "get_positions", func(ctx context.Context) error {
		var opErr error
		positions, opErr = p.adapter.Positions(ctx)
		return opErr
	})
	return p.respond(positions, err)
}

// GetBalances lists account cash balances.
func (p *BaseProvider) GetBalances(ctx context.Context) *models.Response {
	var balances []models.Balance
	err := p.guard(ctx, ClassAccount, "get_balances", func(ctx context.Context) error {
		var opErr error
		balances, opErr = p.adapter.Balances(ctx)
		return opErr
	})
	return p.respond(balances, err)
}

// Subscribe registers a real-time handle and subscribes the symbols on the
// broker stream. On stream failure the partially-created handle is released.
func (p *BaseProvider) Subscribe(ctx context.Context, symbols []string, cb Callbacks) (uuid.UUID, error) {
	if len(symbols) == 0 {
		return uuid.Nil, gwerrors.New(gwerrors.KindValidation, "InvalidSymbol", "at least one symbol is required").WithProvider(p.id)
	}
	if !p.adapter.Capabilities().RealtimeData {
		return uuid.Nil, gwerrors.New(gwerrors.KindNotSupported, "RealtimeUnsupported",
			"provider does not stream real-time data").WithProvider(p.id)
	}

	id := p.subs.Add(symbols, cb)
	err := p.guard(ctx, ClassMarketData, "subscribe", func(ctx context.Context) error {
		return p.adapter.StreamSubscribe(ctx, symbols)
	})
	if err != nil {
		p.subs.Remove(id)
		return uuid.Nil, err
	}

	p.metrics.SetSubscriptions(p.id, p.subs.Len())
	return id, nil
}

// Unsubscribe releases a handle and drops broker-side registrations for
// symbols no other handle still wants.
func (p *BaseProvider) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	symbols, ok := p.subs.Remove(id)
	if !ok {
		return gwerrors.New(gwerrors.KindValidation, "UnknownSubscription",
			"no subscription with id "+id.String()).WithProvider(p.id)
	}
	p.metrics.SetSubscriptions(p.id, p.subs.Len())

	orphaned := p.subs.Unreferenced(symbols)
	if len(orphaned) == 0 {
		return nil
	}
	if err := p.adapter.StreamUnsubscribe(ctx, orphaned); err != nil {
		// Broker-side leftovers are harmless; the handle is gone either way.
		p.logger.Warn("stream unsubscribe failed", zap.Strings("symbols", orphaned), zap.Error(err))
	}
	return nil
}

// HandleStreamEvent is the dispatch entry the transport adapter feeds.
func (p *BaseProvider) HandleStreamEvent(ev Event) {
	p.touchHeartbeat()
	p.subs.Dispatch(ev)
}

// Disconnect synchronously unsubscribes every handle, waits for in-flight
// operations, and tears down the transport. Idempotent.
func (p *BaseProvider) Disconnect(ctx context.Context) error {
	p.lifecycleMu.Lock()
	if p.State() == StateDisconnected {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.setState(StateDisconnected)
	p.lifecycleMu.Unlock()

	symbols := p.subs.RemoveAll()
	p.metrics.SetSubscriptions(p.id, 0)
	if len(symbols) > 0 {
		if err := p.adapter.StreamUnsubscribe(ctx, symbols); err != nil {
			p.logger.Warn("unsubscribe on disconnect failed",
				zap.Strings("symbols", symbols), zap.Error(err))
		}
	}

	// New operations are already rejected; wait out the ones in flight so the
	// transport is not torn down under them.
	p.inflight.Wait()

	if err := p.adapter.Logout(ctx); err != nil {
		p.logger.Warn("logout failed during disconnect", zap.Error(err))
	}
	p.logger.Info("provider disconnected")
	return nil
}

func (p *BaseProvider) touchHeartbeat() {
	atomic.StoreInt64(&p.heartbeat, time.Now().UnixNano())
}

// LastHeartbeat returns the time of the last successful broker interaction.
func (p *BaseProvider) LastHeartbeat() time.Time {
	ns := atomic.LoadInt64(&p.heartbeat)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Health recomputes the provider health on demand, behind a short TTL cache
// safe for concurrent readers.
func (p *BaseProvider) Health(ctx context.Context) HealthStatus {
	now := time.Now()

	p.healthMu.RLock()
	if now.Sub(p.healthAt) < healthCacheTTL {
		h := p.health
		p.healthMu.RUnlock()
		return h
	}
	p.healthMu.RUnlock()

	h := p.computeHealth(ctx)

	p.healthMu.Lock()
	p.health = h
	p.healthAt = now
	p.healthMu.Unlock()
	return h
}

func (p *BaseProvider) computeHealth(ctx context.Context) HealthStatus {
	h := HealthStatus{
		Connected:     p.State() == StateAuthenticated,
		LastHeartbeat: p.LastHeartbeat(),
	}
	if !h.Connected {
		h.APIStatus = APIStatusDown
		return h
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	latency, pingErr := p.adapter.Ping(pingCtx)
	h.Latency = latency

	var anyOpen, anyHalfOpen bool
	var errorRate float64
	for _, b := range p.breakers {
		switch b.State() {
		case resilience.StateOpen:
			anyOpen = true
		case resilience.StateHalfOpen:
			anyHalfOpen = true
		}
		if r := b.ErrorRate(); r > errorRate {
			errorRate = r
		}
	}
	h.ErrorRate = errorRate

	switch {
	case pingErr != nil || anyOpen:
		h.APIStatus = APIStatusDown
	case anyHalfOpen || errorRate > 0.2:
		h.APIStatus = APIStatusDegraded
	default:
		h.APIStatus = APIStatusOperational
	}
	if pingErr == nil {
		p.touchHeartbeat()
		h.LastHeartbeat = p.LastHeartbeat()
	}
	return h
}
