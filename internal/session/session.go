// Package session holds the configuration and lifecycle of one trading
// session: a contiguous run of steps sharing placement, execution and agent
// activation rules.
package session

import (
	"fmt"
	"math/rand/v2"

	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// State is a session lifecycle state.
type State uint8

const (
	Pending State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Config is the per-session settings block.
type Config struct {
	Name               string
	IterationSteps     int64
	WithOrderPlacement bool
	WithOrderExecution bool
	WithPrint          bool
	// MaxNormalOrders is the number of normal agents whose non-empty batch is
	// accepted per step.
	MaxNormalOrders int
	// MaxHighFrequencyOrders bounds the high-frequency batches accepted after
	// each normal batch.
	MaxHighFrequencyOrders int
	// HighFrequencySubmitRate is the chance a high-frequency agent is asked.
	HighFrequencySubmitRate float64
	// Events names the event groups attached to the session.
	Events []string
}

// DefaultConfig returns the optional fields at their defaults.
func DefaultConfig() Config {
	return Config{
		WithPrint:               true,
		MaxNormalOrders:         1,
		MaxHighFrequencyOrders:  1,
		HighFrequencySubmitRate: 1,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.IterationSteps <= 0 {
		return simerr.Config("iterationSteps", "must be positive, got %d", c.IterationSteps)
	}
	if c.MaxNormalOrders < 0 {
		return simerr.Config("maxNormalOrders", "must not be negative")
	}
	if c.MaxHighFrequencyOrders < 0 {
		return simerr.Config("maxHighFrequencyOrders", "must not be negative")
	}
	if c.HighFrequencySubmitRate < 0 || c.HighFrequencySubmitRate > 1 {
		return simerr.Config("hifreqSubmitRate", "must be within [0, 1]")
	}
	return nil
}

// ParseConfig decodes a session settings block.
func ParseConfig(s settings.Settings) (Config, error) {
	c := DefaultConfig()
	var err error
	if c.Name, err = s.String("sessionName", ""); err != nil {
		return c, err
	}
	if c.IterationSteps, err = s.RequireInt("iterationSteps"); err != nil {
		return c, err
	}
	if c.WithOrderPlacement, err = s.RequireBool("withOrderPlacement"); err != nil {
		return c, err
	}
	if c.WithOrderExecution, err = s.RequireBool("withOrderExecution"); err != nil {
		return c, err
	}
	if c.WithPrint, err = s.Bool("withPrint", c.WithPrint); err != nil {
		return c, err
	}
	n, err := s.Int("maxNormalOrders", int64(c.MaxNormalOrders))
	if err != nil {
		return c, err
	}
	c.MaxNormalOrders = int(n)
	if n, err = s.Int("maxHighFrequencyOrders", int64(c.MaxHighFrequencyOrders)); err != nil {
		return c, err
	}
	c.MaxHighFrequencyOrders = int(n)
	if c.HighFrequencySubmitRate, err = s.Float("hifreqSubmitRate", c.HighFrequencySubmitRate); err != nil {
		return c, err
	}
	if c.Events, err = s.Strings("events"); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Session is one configured session placed on the global step axis.
type Session struct {
	id    int
	cfg   Config
	start int64
	state State
}

// New places a session starting at step start.
func New(id int, cfg Config, start int64) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, simerr.Config("sessions", "negative start step %d", start)
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprint(id)
	}
	return &Session{id: id, cfg: cfg, start: start}, nil
}

func (s *Session) ID() int          { return s.id }
func (s *Session) Name() string     { return s.cfg.Name }
func (s *Session) Config() Config   { return s.cfg }
func (s *Session) State() State     { return s.state }
func (s *Session) StartStep() int64 { return s.start }

// EndStep is the first step after the session.
func (s *Session) EndStep() int64 { return s.start + s.cfg.IterationSteps }

// Steps returns the session's steps in order.
func (s *Session) Steps() []int64 {
	out := make([]int64, 0, s.cfg.IterationSteps)
	for t := s.start; t < s.EndStep(); t++ {
		out = append(out, t)
	}
	return out
}

func (s *Session) transition(from, to State) error {
	if s.state != from {
		return simerr.Scheduling("session."+to.String(), "session %d is %v, want %v", s.id, s.state, from)
	}
	s.state = to
	return nil
}

// Begin moves pending to running.
func (s *Session) Begin() error { return s.transition(Pending, Running) }

// Finish moves running to finished.
func (s *Session) Finish() error { return s.transition(Running, Finished) }

// ActivationOrder returns ids in a uniformly random order. The simulator asks
// agents in this order until MaxNormalOrders non-empty batches are accepted.
func (s *Session) ActivationOrder(rng *rand.Rand, ids []market.AgentID) []market.AgentID {
	out := append([]market.AgentID(nil), ids...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// AskHighFrequency draws whether a high-frequency agent is asked this round.
func (s *Session) AskHighFrequency(rng *rand.Rand) bool {
	r := s.cfg.HighFrequencySubmitRate
	if r >= 1 {
		return true
	}
	return rng.Float64() < r
}

// Plan lays configs out back to back from step 0.
func Plan(cfgs []Config) ([]*Session, error) {
	if len(cfgs) == 0 {
		return nil, simerr.Config("sessions", "at least one session is required")
	}
	out := make([]*Session, 0, len(cfgs))
	var start int64
	for i, c := range cfgs {
		s, err := New(i, c, start)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		out = append(out, s)
		start = s.EndStep()
	}
	return out, nil
}
