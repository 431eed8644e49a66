// Package validation composes the market and compliance engines into the
// single pre-dispatch gate every order passes before it may reach a broker.
package validation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/compliance"
	"github.com/finkor/brokergate/internal/market"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

// Context carries the account and market facts an order is validated against.
type Context struct {
	ReferencePrice decimal.Decimal
	InvestorType   models.InvestorType
	// HolderShares is the account's current holding in the order's symbol.
	HolderShares int64
	// ForeignHeld/TotalShares are the aggregate-ownership fallback used when
	// the compliance engine has no quota record for the symbol.
	ForeignHeld int64
	TotalShares int64
	// Now overrides the validation timestamp; zero means wall clock.
	Now time.Time
}

// Violation is one hard rule failure.
type Violation struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result is the pipeline verdict. Only an OverallCompliant result permits
// dispatch to the broker transport.
type Result struct {
	OverallCompliant bool                  `json:"overall_compliant"`
	Violations       []Violation           `json:"violations"`
	Advisories       []compliance.Advisory `json:"advisories"`
}

// Pipeline runs session, microstructure, and compliance checks in order,
// short-circuiting on the first hard violation while keeping every advisory
// gathered on the way.
type Pipeline struct {
	sessions *market.SessionEngine
	ticks    map[models.Exchange]market.TickTable
	limits   map[models.Exchange]market.PriceLimit
	comp     *compliance.Engine
	logger   *zap.Logger
}

func NewPipeline(
	sessions *market.SessionEngine,
	ticks map[models.Exchange]market.TickTable,
	limits map[models.Exchange]market.PriceLimit,
	comp *compliance.Engine,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		ticks:    ticks,
		limits:   limits,
		comp:     comp,
		logger:   logger,
	}
}

// Validate runs the full gate for one order.
func (p *Pipeline) Validate(ctx context.Context, order *models.Order, vctx Context) Result {
	res := Result{Violations: []Violation{}, Advisories: []compliance.Advisory{}}
	now := vctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Session: the exchange must be in regular trading.
	session, err := p.sessions.Current(order.Exchange)
	if err != nil {
		return p.reject(res, order, err)
	}
	if !session.Trading() {
		return p.reject(res, order, gwerrors.New(gwerrors.KindValidation, "MarketSessionClosed",
			"exchange is not in a regular trading session").
			WithDetail("exchange", string(order.Exchange)).
			WithDetail("session", string(session)))
	}

	// 2. Microstructure: tick, price limit, board lot.
	table, ok := p.ticks[order.Exchange]
	if !ok {
		return p.reject(res, order, gwerrors.New(gwerrors.KindValidation, "UnknownExchange",
			"no tick table configured for exchange "+string(order.Exchange)))
	}
	if err := table.CheckQuantity(order.Quantity); err != nil {
		return p.reject(res, order, err)
	}
	if order.Type != models.TypeMarket {
		if err := table.CheckTick(order.Price); err != nil {
			return p.reject(res, order, err)
		}
		if limit, ok := p.limits[order.Exchange]; ok && vctx.ReferencePrice.Sign() > 0 {
			band := limit.BandFor(vctx.ReferencePrice)
			if err := band.Check(order.Price); err != nil {
				return p.reject(res, order, err)
			}
		}
	}

	// 3. Compliance, by order side.
	if err := p.comp.CheckForeignInvestment(order.Symbol, vctx.InvestorType, order.Side,
		order.Quantity, vctx.ForeignHeld, vctx.TotalShares); err != nil {
		return p.reject(res, order, err)
	}
	if err := p.comp.CheckShortSale(order.Symbol, order.Side, now); err != nil {
		return p.reject(res, order, err)
	}
	if adv := p.comp.MajorShareholderAdvisory(order.Symbol, order.Side,
		vctx.HolderShares, order.Quantity, vctx.TotalShares); adv != nil {
		res.Advisories = append(res.Advisories, *adv)
	}

	res.OverallCompliant = true
	return res
}

func (p *Pipeline) reject(res Result, order *models.Order, err error) Result {
	v := Violation{Code: "ValidationError", Message: err.Error()}
	var ge *gwerrors.Error
	if gwerrors.As(err, &ge) {
		v.Code = ge.Code
		v.Message = ge.Message
		v.Details = ge.Details
	}
	res.Violations = append(res.Violations, v)
	res.OverallCompliant = false

	p.logger.Info("order rejected by validation pipeline",
		zap.String("order_id", order.ID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("code", v.Code))
	return res
}
