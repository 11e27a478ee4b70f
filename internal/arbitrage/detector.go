// Package arbitrage detects cross-exchange price gaps on configured pairs.
package arbitrage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Storage is the interface for storing opportunities.
type Storage interface {
	StoreOpportunity(ctx context.Context, opp *Opportunity) error
	Close() error
}

// PriceSource quotes the current price of a pair on an exchange.
type PriceSource interface {
	GetMarketPrice(ctx context.Context, pair string, exchange string) (float64, error)
}

// Config holds detector configuration.
type Config struct {
	Prices  PriceSource
	Storage Storage // optional
	Logger  *zap.Logger

	MinProfitThreshold float64 // percent
	MaxLatency         time.Duration
	Pairs              []string
	Exchanges          []string
	MaxOrderSize       float64
	PollInterval       time.Duration
}

// Detector polls prices and reports opportunities.
type Detector struct {
	prices  PriceSource
	storage Storage
	logger  *zap.Logger

	threshold    float64
	maxLatency   time.Duration
	pairs        []string
	exchanges    []string
	maxOrderSize float64
	pollInterval time.Duration

	opportunityChan chan *Opportunity

	mu     sync.RWMutex
	latest []*Opportunity
	byID   map[string]*Opportunity

	wg sync.WaitGroup
}

// New creates a new arbitrage detector.
func New(cfg *Config) (*Detector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Prices == nil {
		return nil, fmt.Errorf("price source cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	d := &Detector{
		prices:          cfg.Prices,
		storage:         cfg.Storage,
		logger:          cfg.Logger,
		threshold:       cfg.MinProfitThreshold,
		maxLatency:      cfg.MaxLatency,
		pairs:           cfg.Pairs,
		exchanges:       cfg.Exchanges,
		maxOrderSize:    cfg.MaxOrderSize,
		pollInterval:    cfg.PollInterval,
		opportunityChan: make(chan *Opportunity, 50),
		byID:            make(map[string]*Opportunity),
	}
	if d.maxLatency <= 0 {
		d.maxLatency = time.Second
	}
	if d.pollInterval <= 0 {
		d.pollInterval = 5 * time.Second
	}
	return d, nil
}

// OpportunityChan returns the channel detected opportunities are published on.
// Publishing never blocks; opportunities are dropped when the buffer is full.
func (d *Detector) OpportunityChan() <-chan *Opportunity {
	return d.opportunityChan
}

// Latest returns copies of the opportunities found by the most recent pass.
func (d *Detector) Latest() []*Opportunity {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Opportunity, len(d.latest))
	for i, o := range d.latest {
		c := *o
		out[i] = &c
	}
	return out
}

// Lookup returns a copy of a recently detected opportunity.
func (d *Detector) Lookup(id string) (*Opportunity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	c := *o
	return &c, true
}

type quote struct {
	exchange string
	price    float64
	ok       bool
}

// DetectOpportunities runs one detection pass over every configured pair and
// returns the opportunities sorted by profit, highest first. A failed price
// fetch only removes that exchange for that pair.
func (d *Detector) DetectOpportunities(ctx context.Context) ([]*Opportunity, error) {
	start := time.Now()
	defer func() {
		DetectionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	quotes := d.fetchQuotes(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opps []*Opportunity
	for i, pair := range d.pairs {
		opps = append(opps, d.comparePair(pair, quotes[i])...)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ProfitPercent > opps[j].ProfitPercent
	})

	d.remember(opps)
	for _, opp := range opps {
		d.publish(ctx, opp)
	}
	return opps, nil
}

// fetchQuotes queries every (pair, exchange) concurrently. Tasks never return
// an error so one slow or failing venue cannot cancel its siblings.
func (d *Detector) fetchQuotes(ctx context.Context) [][]quote {
	quotes := make([][]quote, len(d.pairs))
	var g errgroup.Group

	for i, pair := range d.pairs {
		quotes[i] = make([]quote, len(d.exchanges))
		for j, exchange := range d.exchanges {
			g.Go(func() error {
				fetchCtx, cancel := context.WithTimeout(ctx, d.maxLatency)
				defer cancel()

				price, err := d.prices.GetMarketPrice(fetchCtx, pair, exchange)
				switch {
				case err != nil:
					PriceFetchErrorsTotal.WithLabelValues(exchange, "error").Inc()
					d.logger.Debug("price-fetch-failed",
						zap.String("pair", pair),
						zap.String("exchange", exchange),
						zap.Error(err))
				case price <= 0:
					PriceFetchErrorsTotal.WithLabelValues(exchange, "invalid_price").Inc()
					d.logger.Debug("invalid-price",
						zap.String("pair", pair),
						zap.String("exchange", exchange),
						zap.Float64("price", price))
				default:
					quotes[i][j] = quote{exchange: exchange, price: price, ok: true}
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	return quotes
}

func (d *Detector) comparePair(pair string, quotes []quote) []*Opportunity {
	var opps []*Opportunity

	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			a, b := quotes[i], quotes[j]
			if !a.ok || !b.ok || a.price == b.price {
				continue
			}

			low, high := a, b
			if b.price < a.price {
				low, high = b, a
			}

			if ProfitPercent(low.price, high.price) < d.threshold {
				continue
			}
			opps = append(opps, NewOpportunity(pair, low.exchange, high.exchange, low.price, high.price, d.maxOrderSize))
		}
	}
	return opps
}

func (d *Detector) remember(opps []*Opportunity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = make([]*Opportunity, len(opps))
	d.byID = make(map[string]*Opportunity, len(opps))
	for i, o := range opps {
		c := *o
		d.latest[i] = &c
		d.byID[c.ID] = &c
	}
}

// MarkStatus records a status change of a remembered opportunity.
func (d *Detector) MarkStatus(id string, status Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if o, ok := d.byID[id]; ok {
		o.Status = status
	}
}

// ClaimExecution moves a remembered opportunity to executing. It reports false
// when the opportunity is already executing or executed. Forgotten ids are
// always claimable.
func (d *Detector) ClaimExecution(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.byID[id]
	if !ok {
		return true
	}
	if o.Status == StatusExecuting || o.Status == StatusExecuted {
		return false
	}
	o.Status = StatusExecuting
	return true
}

func (d *Detector) publish(ctx context.Context, opp *Opportunity) {
	OpportunitiesDetectedTotal.WithLabelValues(opp.Pair).Inc()
	OpportunityProfitBPS.Observe(opp.ProfitPercent * 100)

	if d.storage != nil {
		if err := d.storage.StoreOpportunity(ctx, opp); err != nil {
			d.logger.Error("failed-to-store-opportunity",
				zap.String("opportunity-id", opp.ID),
				zap.Error(err))
		}
	}

	// Send opportunity (non-blocking)
	select {
	case d.opportunityChan <- opp:
		d.logger.Info("arbitrage-opportunity-detected",
			zap.String("opportunity-id", opp.ID),
			zap.String("pair", opp.Pair),
			zap.String("buy-exchange", opp.BuyExchange),
			zap.String("sell-exchange", opp.SellExchange),
			zap.Float64("profit-percent", opp.ProfitPercent))
	default:
		OpportunitiesDroppedTotal.Inc()
		d.logger.Warn("opportunity-channel-full", zap.String("pair", opp.Pair))
	}
}

// Start launches the polling loop. It runs until ctx is cancelled.
func (d *Detector) Start(ctx context.Context) error {
	d.logger.Info("arbitrage-detector-starting",
		zap.Float64("min-profit-threshold", d.threshold),
		zap.Strings("pairs", d.pairs),
		zap.Strings("exchanges", d.exchanges),
		zap.Duration("poll-interval", d.pollInterval))

	d.wg.Add(1)
	go d.detectionLoop(ctx)

	return nil
}

// Wait blocks until the polling loop has exited.
func (d *Detector) Wait() {
	d.wg.Wait()
}

func (d *Detector) detectionLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("arbitrage-detector-stopping")
			return
		case <-ticker.C:
			opps, err := d.DetectOpportunities(ctx)
			if err != nil {
				continue
			}
			d.logger.Debug("detection-pass-complete", zap.Int("opportunities", len(opps)))
		}
	}
}
