// Package runner builds a simulation from a Config and runs it.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/fundamentals"
	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/prng"
	"github.com/zappabad/marketsim/internal/session"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
	"github.com/zappabad/marketsim/internal/simulator"
)

// Keys consumed by group expansion; they are never inherited through extends.
var (
	marketGroupKeys = []string{"numMarkets", "from", "to", "prefix"}
	agentGroupKeys  = []string{"numAgents", "from", "to", "prefix"}
)

// Options tune a Runner. The zero value is usable.
type Options struct {
	// Seed overrides the seed of the config file when set.
	Seed *uint64
	// Registry resolves class names. Nil uses DefaultRegistry.
	Registry *Registry
	Logger   *zap.Logger
	// Stdout receives console output. Nil means os.Stdout.
	Stdout io.Writer
	// Sinks receive the record stream next to the configured loggers.
	Sinks []logs.Sink
}

// Result summarises a finished run.
type Result struct {
	RunID    string
	Seed     uint64
	Stats    simulator.Stats
	InitTime time.Duration
	ExecTime time.Duration
}

// Runner owns one simulation.
type Runner struct {
	cfg    *Config
	opts   Options
	reg    *Registry
	logger *zap.Logger
	seed   uint64
	runID  string

	sim        *simulator.Simulator
	processors map[string]logs.Processor
	groups     map[string][]market.ID
	initTime   time.Duration
}

func New(cfg *Config, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Runner{
		cfg:        cfg,
		opts:       opts,
		reg:        reg,
		logger:     opts.Logger.Named("runner"),
		processors: make(map[string]logs.Processor),
		groups:     make(map[string][]market.ID),
	}
}

// Simulator returns the built simulator, or nil before Setup.
func (r *Runner) Simulator() *simulator.Simulator { return r.sim }

// Processor returns the processor built for a logger group.
func (r *Runner) Processor(name string) (logs.Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

func (r *Runner) RunID() string { return r.runID }
func (r *Runner) Seed() uint64  { return r.seed }

// MarketGroup returns the ids of the markets a group expanded to.
func (r *Runner) MarketGroup(name string) []market.ID { return r.groups[name] }

func (r *Runner) resolveSeed() uint64 {
	switch {
	case r.opts.Seed != nil:
		return *r.opts.Seed
	case r.cfg.Seed != nil:
		return *r.cfg.Seed
	default:
		return uint64(time.Now().UnixNano())
	}
}

// Setup builds markets, agents, sessions, events and loggers. It freezes the
// registry and may be called once.
func (r *Runner) Setup() error {
	if r.sim != nil {
		return simerr.Scheduling("runner.Setup", "already set up")
	}
	start := time.Now()
	r.reg.Freeze()
	r.seed = r.resolveSeed()
	r.runID = uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "marketsim:%d:%x", r.seed, r.cfg.Digest())).String()

	sink, err := r.setupLoggers()
	if err != nil {
		return err
	}
	r.sim = simulator.New(simulator.Config{Seed: r.seed, RunID: r.runID, Sink: sink}, r.opts.Logger.Named("simulator"))

	steps := []struct {
		name string
		fn   func() error
	}{
		{"markets", r.setupMarkets},
		{"correlations", r.setupCorrelations},
		{"agents", r.setupAgents},
		{"sessions", r.setupSessions},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("setup %s: %w", s.name, err)
		}
	}
	r.initTime = time.Since(start)
	r.logger.Info("initialized",
		zap.String("run", r.runID),
		zap.Uint64("seed", r.seed),
		zap.Int("markets", len(r.sim.Markets())),
		zap.Int("agents", len(r.sim.Agents())),
		zap.Int64("steps", r.sim.TotalSteps()),
		zap.Duration("init_time", r.initTime),
	)
	return nil
}

// Run sets the simulation up if needed and runs it.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.sim == nil {
		if err := r.Setup(); err != nil {
			return Result{}, err
		}
	}
	start := time.Now()
	err := r.sim.Run(ctx)
	res := Result{
		RunID:    r.runID,
		Seed:     r.seed,
		Stats:    r.sim.Stats(),
		InitTime: r.initTime,
		ExecTime: time.Since(start),
	}
	if err != nil {
		return res, err
	}
	r.logger.Info("finished",
		zap.String("run", r.runID),
		zap.Int64("orders", res.Stats.Orders),
		zap.Int64("executions", res.Stats.Executions),
		zap.Duration("exec_time", res.ExecTime),
	)
	return res, nil
}

// expand lists the instance names of a group. A group has numX instances or
// the inclusive index range from..to; instance names are prefix plus index
// unless the group has a single instance.
func expand(name string, s settings.Settings, countKey string) ([]string, error) {
	n, err := s.Int(countKey, 1)
	if err != nil {
		return nil, err
	}
	from, to := int64(0), n-1
	if s.Has("from") || s.Has("to") {
		if s.Has(countKey) {
			return nil, simerr.Config(name, "%s and from/to cannot be used together", countKey)
		}
		if from, err = s.RequireInt("from"); err != nil {
			return nil, err
		}
		if to, err = s.RequireInt("to"); err != nil {
			return nil, err
		}
		n = to - from + 1
	}
	if n <= 0 {
		return nil, simerr.Config(name, "group has no instances")
	}
	sep := ""
	if n > 1 {
		sep = "-"
	}
	prefix, err := s.String("prefix", name+sep)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := from; i <= to; i++ {
		if n == 1 {
			out = append(out, prefix)
			continue
		}
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out, nil
}

func (r *Runner) resolve(name string, exclude ...string) (settings.Settings, error) {
	g, ok := r.cfg.Group(name)
	if !ok {
		return nil, simerr.Config(name, "no such group")
	}
	return settings.Extend(r.cfg.Groups, name, g, exclude...)
}

func (r *Runner) setupLoggers() (logs.Sink, error) {
	var tee logs.Tee
	for _, name := range r.cfg.Simulation.Loggers {
		s, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		class, err := s.String("class", "")
		if err != nil {
			return nil, err
		}
		f, err := r.reg.processor(name+".class", class)
		if err != nil {
			return nil, err
		}
		p, err := f(s, ProcessorEnv{Name: name, Stdout: r.opts.Stdout, Logger: r.opts.Logger.Named(name)})
		if err != nil {
			return nil, fmt.Errorf("logger %s: %w", name, err)
		}
		direct, err := s.Bool("direct", false)
		if err != nil {
			return nil, err
		}
		r.processors[name] = p
		if direct {
			tee = append(tee, logs.NewDirect(p))
		} else {
			tee = append(tee, logs.NewBuffered(p))
		}
	}
	tee = append(tee, r.opts.Sinks...)
	return tee, nil
}

func (r *Runner) setupMarkets() error {
	seq := &market.Sequence{}
	byName := make(map[string]*market.Market)
	fund := r.sim.Fundamentals()
	for _, group := range r.cfg.Simulation.Markets {
		if _, dup := r.groups[group]; dup {
			return simerr.Config("simulation.markets", "group %q listed twice", group)
		}
		raw, _ := r.cfg.Group(group)
		names, err := expand(group, raw, "numMarkets")
		if err != nil {
			return err
		}
		s, err := r.resolve(group, marketGroupKeys...)
		if err != nil {
			return err
		}
		class, err := s.String("class", "")
		if err != nil {
			return err
		}
		cfg, params, err := marketConfig(group, s)
		if err != nil {
			return err
		}
		for _, name := range names {
			id := market.ID(len(r.sim.Markets()))
			var v market.Venue
			switch class {
			case ClassMarket:
				m, err := market.New(id, name, cfg, seq)
				if err != nil {
					return fmt.Errorf("market %s: %w", name, err)
				}
				if err := fund.AddMarket(id, params); err != nil {
					return fmt.Errorf("market %s: %w", name, err)
				}
				byName[name] = m
				v = m
			case ClassIndexMarket:
				components, weights, err := r.indexComponents(group, s, byName)
				if err != nil {
					return err
				}
				im, err := market.NewIndex(id, name, cfg, components, weights, seq)
				if err != nil {
					return fmt.Errorf("market %s: %w", name, err)
				}
				v = im
			default:
				return simerr.Config(group+".class", "unknown market class %q", class)
			}
			if err := r.sim.AddMarket(v); err != nil {
				return err
			}
			r.groups[group] = append(r.groups[group], id)
		}
	}
	return nil
}

// marketConfig reads tickSize, marketPrice, fundamentalPrice, outstandingShares,
// tapeSize, fundamentalDrift and fundamentalVolatility.
func marketConfig(group string, s settings.Settings) (market.Config, fundamentals.Params, error) {
	cfg := market.DefaultConfig()
	var (
		p      fundamentals.Params
		err    error
		shares int64
		tape   int64
	)
	if cfg.TickSize, err = s.Float("tickSize", cfg.TickSize); err != nil {
		return cfg, p, err
	}
	if cfg.MarketPrice, err = s.Float("marketPrice", 0); err != nil {
		return cfg, p, err
	}
	if cfg.FundamentalPrice, err = s.Float("fundamentalPrice", 0); err != nil {
		return cfg, p, err
	}
	if shares, err = s.Int("outstandingShares", 0); err != nil {
		return cfg, p, err
	}
	if tape, err = s.Int("tapeSize", int64(cfg.TapeSize)); err != nil {
		return cfg, p, err
	}
	cfg.OutstandingShares, cfg.TapeSize = shares, int(tape)

	p.Initial = cfg.FundamentalPrice
	if p.Initial == 0 {
		p.Initial = cfg.MarketPrice
	}
	if p.Drift, err = s.Float("fundamentalDrift", 0); err != nil {
		return cfg, p, err
	}
	if p.Volatility, err = s.Float("fundamentalVolatility", 0); err != nil {
		return cfg, p, err
	}
	return cfg, p, nil
}

// indexComponents resolves the markets key of an index group. Entries name
// markets or market groups built earlier.
func (r *Runner) indexComponents(group string, s settings.Settings, byName map[string]*market.Market) ([]*market.Market, []float64, error) {
	refs, err := s.Strings("markets")
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, simerr.Config(group+".markets", "index market needs components")
	}
	var out []*market.Market
	for _, ref := range refs {
		if m, ok := byName[ref]; ok {
			out = append(out, m)
			continue
		}
		ids, ok := r.groups[ref]
		if !ok {
			return nil, nil, simerr.Config(group+".markets", "unknown component %q", ref)
		}
		for _, id := range ids {
			v, _ := r.sim.Market(id)
			m, ok := byName[v.Name()]
			if !ok {
				return nil, nil, simerr.Config(group+".markets", "component %q is not a plain market", v.Name())
			}
			out = append(out, m)
		}
	}
	weights, err := s.Floats("weights")
	if err != nil {
		return nil, nil, err
	}
	return out, weights, nil
}

func (r *Runner) marketID(path, name string) (market.ID, error) {
	v, ok := r.sim.MarketByName(name)
	if !ok {
		return 0, simerr.Config(path, "unknown market %q", name)
	}
	return v.ID(), nil
}

func (r *Runner) setupCorrelations() error {
	for i, p := range r.cfg.Simulation.FundamentalCorrelations.Pairwise {
		path := fmt.Sprintf("simulation.fundamentalCorrelations.pairwise[%d]", i)
		a, err := r.marketID(path, p.A)
		if err != nil {
			return err
		}
		b, err := r.marketID(path, p.B)
		if err != nil {
			return err
		}
		if err := r.sim.Fundamentals().SetCorrelation(a, b, p.Corr, 0); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// accessible resolves the markets key of an agent group. Entries name market
// groups or single markets.
func (r *Runner) accessible(group string, s settings.Settings) ([]market.ID, error) {
	refs, err := s.Strings("markets")
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, simerr.Config(group+".markets", "is required")
	}
	seen := make(map[market.ID]bool)
	var out []market.ID
	add := func(id market.ID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, ref := range refs {
		if ids, ok := r.groups[ref]; ok {
			for _, id := range ids {
				add(id)
			}
			continue
		}
		id, err := r.marketID(group+".markets", ref)
		if err != nil {
			return nil, err
		}
		add(id)
	}
	return out, nil
}

func (r *Runner) setupAgents() error {
	seen := make(map[string]bool)
	for _, group := range r.cfg.Simulation.Agents {
		if seen[group] {
			return simerr.Config("simulation.agents", "group %q listed twice", group)
		}
		seen[group] = true
		raw, _ := r.cfg.Group(group)
		names, err := expand(group, raw, "numAgents")
		if err != nil {
			return err
		}
		s, err := r.resolve(group, agentGroupKeys...)
		if err != nil {
			return err
		}
		class, err := s.String("class", "")
		if err != nil {
			return err
		}
		ids, err := r.accessible(group, s)
		if err != nil {
			return err
		}
		for _, name := range names {
			a, err := r.reg.agent(group+".class", class)
			if err != nil {
				return err
			}
			id := market.AgentID(len(r.sim.Agents()))
			env := agent.Env{
				ID:         id,
				Name:       name,
				PRNG:       prng.Derive(r.seed, prng.LabelAgent, int(id)),
				Accessible: ids,
				Logger:     r.opts.Logger.Named("agent").With(zap.String("agent", name)),
			}
			if err := a.Setup(s, env); err != nil {
				return fmt.Errorf("agent %s: %w", name, err)
			}
			if err := r.sim.AddAgent(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) setupSessions() error {
	cfgs := make([]session.Config, 0, len(r.cfg.Simulation.Sessions))
	for i, s := range r.cfg.Simulation.Sessions {
		c, err := session.ParseConfig(s)
		if err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		cfgs = append(cfgs, c)
	}
	sessions, err := session.Plan(cfgs)
	if err != nil {
		return err
	}
	var eventID int
	for _, sess := range sessions {
		if err := r.sim.AddSession(sess); err != nil {
			return err
		}
		for _, group := range sess.Config().Events {
			s, err := r.resolve(group)
			if err != nil {
				return err
			}
			class, err := s.String("class", "")
			if err != nil {
				return err
			}
			ev, err := r.reg.event(group+".class", class)
			if err != nil {
				return err
			}
			env := event.Env{
				ID:   eventID,
				Name: group,
				PRNG: prng.Derive(r.seed, prng.LabelEvent, eventID),
				Session: event.Session{
					ID:        sess.ID(),
					Name:      sess.Name(),
					StartStep: sess.StartStep(),
					Steps:     sess.Config().IterationSteps,
				},
				Markets: r.sim.Markets(),
				Agents:  r.sim.AgentIDs(),
				Logger:  r.opts.Logger.Named("event").With(zap.String("event", group)),
			}
			eventID++
			if err := ev.Setup(s, env); err != nil {
				return fmt.Errorf("event %s in session %d: %w", group, sess.ID(), err)
			}
			if err := r.sim.AddEvent(sess.ID(), ev); err != nil {
				return err
			}
		}
	}
	return nil
}
