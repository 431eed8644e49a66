// Package compliance enforces the regulatory constraints on orders: foreign
// ownership quotas, short-sale restrictions, and major-shareholder reporting,
// plus the Korean securities tax calculators.
package compliance

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

// ForeignOwnershipLimit is the per-symbol foreign investment quota state.
type ForeignOwnershipLimit struct {
	Symbol      string          `json:"symbol"`
	LimitRatio  decimal.Decimal `json:"limit_ratio"` // e.g. 0.50
	TotalShares int64           `json:"total_shares"`
	ForeignHeld int64           `json:"foreign_held"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ShortSaleRestriction is a per-symbol sale ban window. A nil Until means
// open-ended.
type ShortSaleRestriction struct {
	Symbol    string     `json:"symbol"`
	From      time.Time  `json:"from"`
	Until     *time.Time `json:"until,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the restriction covers time t.
func (r ShortSaleRestriction) ActiveAt(t time.Time) bool {
	if t.Before(r.From) {
		return false
	}
	return r.Until == nil || !t.After(*r.Until)
}

// Advisory is a non-blocking compliance finding surfaced alongside a passing
// validation.
type Advisory struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Thresholds are the regulatory constants the engine applies.
type Thresholds struct {
	// DefaultForeignLimitRatio applies to symbols with no explicit quota
	// record. Deliberately conservative.
	DefaultForeignLimitRatio decimal.Decimal `yaml:"default_foreign_limit_ratio"`
	// MajorShareholderRatio is the disclosure threshold on total holdings.
	MajorShareholderRatio decimal.Decimal `yaml:"major_shareholder_ratio"`
	// ReportingDeltaRatio is the ownership change that triggers a report.
	ReportingDeltaRatio decimal.Decimal `yaml:"reporting_delta_ratio"`
}

// DefaultThresholds: 49% fallback quota, 5% major-shareholder line, 1% delta.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DefaultForeignLimitRatio: decimal.NewFromFloat(0.49),
		MajorShareholderRatio:    decimal.NewFromFloat(0.05),
		ReportingDeltaRatio:      decimal.NewFromFloat(0.01),
	}
}

// Engine holds per-symbol regulatory state. Mutated only by ApplyUpdate and
// the Set helpers; read concurrently by the validation pipeline.
type Engine struct {
	thresholds Thresholds
	logger     *zap.Logger

	mu      sync.RWMutex
	foreign map[string]ForeignOwnershipLimit
	short   map[string]ShortSaleRestriction
	rates   TaxRates
}

func NewEngine(thresholds Thresholds, logger *zap.Logger) *Engine {
	return &Engine{
		thresholds: thresholds,
		logger:     logger,
		foreign:    make(map[string]ForeignOwnershipLimit),
		short:      make(map[string]ShortSaleRestriction),
		rates:      DefaultTaxRates(),
	}
}

// SetForeignLimit replaces the quota record for a symbol.
func (e *Engine) SetForeignLimit(l ForeignOwnershipLimit) {
	e.mu.Lock()
	e.foreign[l.Symbol] = l
	e.mu.Unlock()
}

// SetShortSaleRestriction replaces the restriction record for a symbol.
func (e *Engine) SetShortSaleRestriction(r ShortSaleRestriction) {
	e.mu.Lock()
	e.short[r.Symbol] = r
	e.mu.Unlock()
}

// TaxRates returns the current rate snapshot.
func (e *Engine) TaxRates() TaxRates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates
}

// CheckForeignInvestment applies the foreign ownership quota. Only buy orders
// from foreign-investor accounts are constrained. Symbols without an explicit
// quota record are projected against the caller-supplied aggregate holding
// under the conservative default ratio.
func (e *Engine) CheckForeignInvestment(symbol string, investor models.InvestorType, side models.OrderSide, qty, fallbackHeld, fallbackTotal int64) error {
	if side != models.SideBuy || investor != models.InvestorForeign {
		return nil
	}

	e.mu.RLock()
	rec, ok := e.foreign[symbol]
	e.mu.RUnlock()

	held, totalShares := rec.ForeignHeld, rec.TotalShares
	limit := rec.LimitRatio
	if !ok || totalShares <= 0 {
		held, totalShares = fallbackHeld, fallbackTotal
		limit = e.thresholds.DefaultForeignLimitRatio
	}
	if totalShares <= 0 {
		// No holding data from either side, nothing to project against.
		return nil
	}
	if limit.IsZero() {
		limit = e.thresholds.DefaultForeignLimitRatio
	}

	total := decimal.NewFromInt(totalShares)
	current := decimal.NewFromInt(held).Div(total)
	projected := decimal.NewFromInt(held + qty).Div(total)
	remaining := limit.Sub(current)

	if projected.GreaterThan(limit) {
		return gwerrors.New(gwerrors.KindValidation, "ForeignInvestmentLimitExceeded",
			"projected foreign ownership exceeds the symbol quota").
			WithDetail("symbol", symbol).
			WithDetail("current_ratio", current.String()).
			WithDetail("projected_ratio", projected.String()).
			WithDetail("limit_ratio", limit.String()).
			WithDetail("remaining_quota", remaining.String())
	}
	return nil
}

// CheckShortSale rejects sell orders on symbols under an active restriction.
func (e *Engine) CheckShortSale(symbol string, side models.OrderSide, at time.Time) error {
	if side != models.SideSell {
		return nil
	}

	e.mu.RLock()
	rec, ok := e.short[symbol]
	e.mu.RUnlock()
	if !ok || !rec.ActiveAt(at) {
		return nil
	}

	err := gwerrors.New(gwerrors.KindValidation, "ShortSellingRestricted",
		"symbol is under a short-selling restriction").
		WithDetail("symbol", symbol).
		WithDetail("from", rec.From.Format(time.RFC3339))
	if rec.Until != nil {
		err = err.WithDetail("until", rec.Until.Format(time.RFC3339))
	}
	if rec.Reason != "" {
		err = err.WithDetail("reason", rec.Reason)
	}
	return err
}

// MajorShareholderAdvisory returns a reporting advisory when the projected
// post-order holding crosses the major-shareholder threshold and the change
// exceeds the reporting delta. Never blocks the order.
func (e *Engine) MajorShareholderAdvisory(symbol string, side models.OrderSide, currentShares, qty, totalShares int64) *Advisory {
	if totalShares <= 0 {
		return nil
	}

	projectedShares := currentShares
	if side == models.SideBuy {
		projectedShares += qty
	} else {
		projectedShares -= qty
	}
	if projectedShares < 0 {
		projectedShares = 0
	}

	total := decimal.NewFromInt(totalShares)
	current := decimal.NewFromInt(currentShares).Div(total)
	projected := decimal.NewFromInt(projectedShares).Div(total)
	delta := projected.Sub(current).Abs()

	threshold := e.thresholds.MajorShareholderRatio
	crossed := current.LessThan(threshold) != projected.LessThan(threshold)
	if !crossed || delta.LessThan(e.thresholds.ReportingDeltaRatio) {
		return nil
	}

	return &Advisory{
		Code:    "MajorShareholderReportingRequired",
		Message: "ownership change requires a major-shareholder disclosure filing",
		Details: map[string]interface{}{
			"symbol":          symbol,
			"current_ratio":   current.String(),
			"projected_ratio": projected.String(),
			"threshold":       threshold.String(),
			"delta":           delta.String(),
		},
	}
}

// UpdateType enumerates the external regulatory feed event types.
type UpdateType string

const (
	UpdateForeignLimit UpdateType = "foreign-investment-limit"
	UpdateShortSale    UpdateType = "short-selling-restriction"
	UpdateTaxRate      UpdateType = "tax-rate-change"
)

// Update is one event from the regulatory feed. Data shape depends on Type.
type Update struct {
	Type          UpdateType      `json:"type"`
	Symbol        string          `json:"symbol,omitempty"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	Data          json.RawMessage `json:"data"`
}

// ApplyUpdate mutates engine state from a regulatory event. Events older than
// the stored record are discarded, which makes redelivery idempotent.
func (e *Engine) ApplyUpdate(u Update) error {
	switch u.Type {
	case UpdateForeignLimit:
		var rec ForeignOwnershipLimit
		if err := json.Unmarshal(u.Data, &rec); err != nil {
			return gwerrors.Wrap(gwerrors.KindValidation, "BadRegulatoryUpdate", err)
		}
		if rec.Symbol == "" {
			rec.Symbol = u.Symbol
		}
		rec.UpdatedAt = u.EffectiveDate

		e.mu.Lock()
		if old, ok := e.foreign[rec.Symbol]; ok && old.UpdatedAt.After(rec.UpdatedAt) {
			e.mu.Unlock()
			return nil
		}
		e.foreign[rec.Symbol] = rec
		e.mu.Unlock()

	case UpdateShortSale:
		var rec ShortSaleRestriction
		if err := json.Unmarshal(u.Data, &rec); err != nil {
			return gwerrors.Wrap(gwerrors.KindValidation, "BadRegulatoryUpdate", err)
		}
		if rec.Symbol == "" {
			rec.Symbol = u.Symbol
		}
		rec.UpdatedAt = u.EffectiveDate

		e.mu.Lock()
		if old, ok := e.short[rec.Symbol]; ok && old.UpdatedAt.After(rec.UpdatedAt) {
			e.mu.Unlock()
			return nil
		}
		e.short[rec.Symbol] = rec
		e.mu.Unlock()

	case UpdateTaxRate:
		var rates TaxRates
		if err := json.Unmarshal(u.Data, &rates); err != nil {
			return gwerrors.Wrap(gwerrors.KindValidation, "BadRegulatoryUpdate", err)
		}
		e.mu.Lock()
		e.rates = rates
		e.mu.Unlock()

	default:
		return gwerrors.New(gwerrors.KindValidation, "BadRegulatoryUpdate",
			"unknown regulatory update type "+string(u.Type))
	}

	e.logger.Info("applied regulatory update",
		zap.String("type", string(u.Type)),
		zap.String("symbol", u.Symbol),
		zap.Time("effective", u.EffectiveDate))
	return nil
}
