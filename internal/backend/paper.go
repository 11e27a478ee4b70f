package backend

import (
	"context"
	"fmt"
	"maps"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// PaperBackend is an in-memory execution backend with simulated venues.
// Prices are sampled around a base price per pair so that cross-exchange
// spreads appear and vanish; deployments are only recorded.
type PaperBackend struct {
	mu          sync.Mutex
	rng         *rand.Rand
	logger      *zap.Logger
	jitter      float64
	basePrices  map[string]float64
	instances   map[string][]types.Instance
	deployments map[string]*types.StrategyExecutionRecord
	balances    map[string]map[string]float64
	down        map[string]bool
}

// PaperConfig configures the simulated venues.
type PaperConfig struct {
	Exchanges            []string
	BasePrices           map[string]float64 // pair -> reference price
	InstancesPerExchange int
	Jitter               float64 // max relative deviation from the base price, e.g. 0.005
	StartingBalance      float64 // quote currency per exchange
	Seed                 int64
	Logger               *zap.Logger
}

// NewPaperBackend creates a simulated backend.
func NewPaperBackend(cfg *PaperConfig) *PaperBackend {
	perExchange := cfg.InstancesPerExchange
	if perExchange <= 0 {
		perExchange = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &PaperBackend{
		rng:         rand.New(rand.NewSource(seed)),
		logger:      cfg.Logger,
		jitter:      cfg.Jitter,
		basePrices:  maps.Clone(cfg.BasePrices),
		instances:   make(map[string][]types.Instance),
		deployments: make(map[string]*types.StrategyExecutionRecord),
		balances:    make(map[string]map[string]float64),
		down:        make(map[string]bool),
	}
	if p.basePrices == nil {
		p.basePrices = make(map[string]float64)
	}

	for _, ex := range cfg.Exchanges {
		for i := 0; i < perExchange; i++ {
			p.instances[ex] = append(p.instances[ex], types.Instance{
				ID:       fmt.Sprintf("paper-%s-%d", ex, i+1),
				Exchange: ex,
				Status:   types.InstanceRunning,
			})
		}
		p.balances[ex] = map[string]float64{"USDT": cfg.StartingBalance}
	}

	return p
}

// SetExchangeDown makes every call for exchange fail until reset.
func (p *PaperBackend) SetExchangeDown(exchange string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[exchange] = down
}

// Deployments returns a copy of the currently deployed strategies.
func (p *PaperBackend) Deployments() map[string]types.StrategyExecutionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]types.StrategyExecutionRecord, len(p.deployments))
	for id, rec := range p.deployments {
		out[id] = *rec
	}
	return out
}

func (p *PaperBackend) checkUp(exchange string) error {
	if p.down[exchange] {
		return fmt.Errorf("paper exchange %s is down", exchange)
	}
	return nil
}

// GetInstancesByExchange lists the simulated instances of exchange.
func (p *PaperBackend) GetInstancesByExchange(ctx context.Context, exchange string) ([]types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return nil, err
	}
	out := make([]types.Instance, len(p.instances[exchange]))
	copy(out, p.instances[exchange])
	return out, nil
}

// DeployStrategy records a deployment on the instance.
func (p *PaperBackend) DeployStrategy(ctx context.Context, instanceID string, spec types.StrategySpec) (*types.StrategyExecutionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(spec.Exchange); err != nil {
		return nil, err
	}

	found := false
	for i, inst := range p.instances[spec.Exchange] {
		if inst.ID == instanceID {
			p.instances[spec.Exchange][i].Running++
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("instance %s not found on %s", instanceID, spec.Exchange)
	}

	rec := &types.StrategyExecutionRecord{
		ID:           uuid.New().String(),
		StrategyType: spec.Type,
		InstanceID:   instanceID,
		Status:       "running",
		StartTime:    time.Now(),
		Parameters:   maps.Clone(spec.Parameters),
	}
	p.deployments[rec.ID] = rec

	p.logger.Info("paper-strategy-deployed",
		zap.String("execution-id", rec.ID),
		zap.String("strategy-id", spec.ID),
		zap.String("instance-id", instanceID),
		zap.String("exchange", spec.Exchange))

	out := *rec
	return &out, nil
}

// UpdateStrategy overwrites parameters of a recorded deployment.
func (p *PaperBackend) UpdateStrategy(ctx context.Context, strategyID string, patch types.StrategyPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.deployments[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s not found", strategyID)
	}
	if rec.Parameters == nil {
		rec.Parameters = make(map[string]any)
	}
	maps.Copy(rec.Parameters, patch.Parameters)
	return nil
}

// StopStrategy removes a recorded deployment.
func (p *PaperBackend) StopStrategy(ctx context.Context, strategyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.deployments[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s not found", strategyID)
	}
	for ex, list := range p.instances {
		for i := range list {
			if list[i].ID == rec.InstanceID && list[i].Running > 0 {
				p.instances[ex][i].Running--
			}
		}
	}
	delete(p.deployments, strategyID)
	return nil
}

// GetMarketPrice returns a fresh price sampled around the pair's base price.
func (p *PaperBackend) GetMarketPrice(ctx context.Context, pair string, exchange string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return 0, err
	}
	base, ok := p.basePrices[pair]
	if !ok {
		return 0, fmt.Errorf("no paper price for %s", pair)
	}

	return base * (1 + p.jitter*(p.rng.Float64()*2-1)), nil
}

// GetVolatility returns a simulated volatility between 1% and 8%.
func (p *PaperBackend) GetVolatility(ctx context.Context, pair string, exchange string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return 0, err
	}
	return 0.01 + p.rng.Float64()*0.07, nil
}

// GetVolume returns a simulated 24h volume.
func (p *PaperBackend) GetVolume(ctx context.Context, pair string, exchange string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return 0, err
	}
	return 1e6 + p.rng.Float64()*9e6, nil
}

// GetSpread returns a simulated bid/ask spread.
func (p *PaperBackend) GetSpread(ctx context.Context, pair string, exchange string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return 0, err
	}
	return 0.0001 + p.rng.Float64()*0.001, nil
}

// PingExchange returns a simulated round trip between 5 and 50ms.
func (p *PaperBackend) PingExchange(ctx context.Context, exchange string) (*types.PingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return nil, err
	}
	if _, ok := p.instances[exchange]; !ok {
		return nil, fmt.Errorf("unknown paper exchange %s", exchange)
	}
	return &types.PingResult{LatencyMs: 5 + p.rng.Int63n(45)}, nil
}

// GetBalances returns the simulated balances of exchange.
func (p *PaperBackend) GetBalances(ctx context.Context, exchange string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkUp(exchange); err != nil {
		return nil, err
	}
	return maps.Clone(p.balances[exchange]), nil
}

var _ Client = (*PaperBackend)(nil)
