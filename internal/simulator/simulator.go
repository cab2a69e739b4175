// Package simulator owns the markets, agents, fundamentals and sessions of a
// run and drives them through the step pipeline.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/fundamentals"
	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/market"
	"github.com/zappabad/marketsim/internal/prng"
	"github.com/zappabad/marketsim/internal/session"
	"github.com/zappabad/marketsim/internal/simerr"
)

// State is the simulator lifecycle state.
type State uint8

const (
	Configured State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Config holds the run-wide settings.
type Config struct {
	// Seed is the root seed every random stream is derived from.
	Seed uint64
	// RunID identifies the run in the record stream.
	RunID string
	// Sink receives the record stream. Nil discards it.
	Sink logs.Sink
}

// Stats counts what happened during a run.
type Stats struct {
	Steps            int64
	Orders           int64
	RejectedOrders   int64
	Cancels          int64
	RejectedCancels  int64
	Expired          int64
	Executions       int64
	ExecutedVolume   int64
	InjectedOrders   int64
	SessionsFinished int
}

// sessionRun pairs a session with its event dispatcher.
type sessionRun struct {
	sess   *session.Session
	events *event.Dispatcher
}

// Simulator is the single mutator of books, fundamentals and accounts.
// It is not safe for concurrent use.
type Simulator struct {
	cfg    Config
	logger *zap.Logger
	sink   logs.Sink
	state  State

	fund     *fundamentals.Fundamentals
	markets  []market.Venue
	readers  []market.Reader
	names    map[string]market.ID
	agents   []agent.Agent
	normal   []market.AgentID
	hifreq   []market.AgentID
	sessions []sessionRun

	// per-run scratch
	cur      sessionRun
	rng      *rand.Rand
	injected []market.Order
	draining bool
	stats    Stats
}

// New creates an empty simulator. A nil logger is replaced by a no-op one.
func New(cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = logs.Discard{}
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		fund:   fundamentals.New(prng.Derive(cfg.Seed, prng.LabelFundamentals, 0)),
		names:  make(map[string]market.ID),
	}
}

func (s *Simulator) State() State { return s.state }
func (s *Simulator) Stats() Stats { return s.stats }
func (s *Simulator) Seed() uint64 { return s.cfg.Seed }

// Fundamentals returns the fundamental price processes. Every market that is
// not an index needs one before Run.
func (s *Simulator) Fundamentals() *fundamentals.Fundamentals { return s.fund }

func (s *Simulator) configuring(op string) error {
	if s.state != Configured {
		return simerr.Scheduling(op, "simulator is %v", s.state)
	}
	return nil
}

// AddMarket registers v. Markets are added in id order starting at 0.
func (s *Simulator) AddMarket(v market.Venue) error {
	if err := s.configuring("simulator.AddMarket"); err != nil {
		return err
	}
	if int(v.ID()) != len(s.markets) {
		return simerr.Config("markets", "market %q has id %d, want %d", v.Name(), v.ID(), len(s.markets))
	}
	if _, dup := s.names[v.Name()]; dup {
		return simerr.Config("markets", "duplicate market name %q", v.Name())
	}
	s.markets = append(s.markets, v)
	s.readers = append(s.readers, v)
	s.names[v.Name()] = v.ID()
	return nil
}

// AddAgent registers a set-up agent. Agents are added in id order starting at 0.
func (s *Simulator) AddAgent(a agent.Agent) error {
	if err := s.configuring("simulator.AddAgent"); err != nil {
		return err
	}
	if int(a.ID()) != len(s.agents) {
		return simerr.Config("agents", "agent %q has id %d, want %d", a.Name(), a.ID(), len(s.agents))
	}
	s.agents = append(s.agents, a)
	if agent.IsHighFrequency(a) {
		s.hifreq = append(s.hifreq, a.ID())
	} else {
		s.normal = append(s.normal, a.ID())
	}
	return nil
}

// AddSession appends a session. It must start where the previous one ends.
func (s *Simulator) AddSession(sess *session.Session) error {
	if err := s.configuring("simulator.AddSession"); err != nil {
		return err
	}
	var start int64
	if n := len(s.sessions); n > 0 {
		start = s.sessions[n-1].sess.EndStep()
	}
	if sess.StartStep() != start {
		return simerr.Scheduling("simulator.AddSession", "session %d starts at %d, want %d", sess.ID(), sess.StartStep(), start)
	}
	s.sessions = append(s.sessions, sessionRun{sess: sess, events: event.NewDispatcher(s, s.logger)})
	return nil
}

// AddEvent attaches a set-up event to the session with the given id.
func (s *Simulator) AddEvent(sessionID int, ev event.Event) error {
	if err := s.configuring("simulator.AddEvent"); err != nil {
		return err
	}
	for _, r := range s.sessions {
		if r.sess.ID() == sessionID {
			return r.events.Register(ev)
		}
	}
	return simerr.Config("sessions", "event %q attached to unknown session %d", ev.Name(), sessionID)
}

// Market implements event.View and agent.Markets.
func (s *Simulator) Market(id market.ID) (market.Reader, bool) {
	if id < 0 || int(id) >= len(s.readers) {
		return nil, false
	}
	return s.readers[id], true
}

// Markets returns every market in id order.
func (s *Simulator) Markets() []market.Reader {
	return append([]market.Reader(nil), s.readers...)
}

// MarketByName looks a market up by name.
func (s *Simulator) MarketByName(name string) (market.Reader, bool) {
	id, ok := s.names[name]
	if !ok {
		return nil, false
	}
	return s.readers[id], true
}

// Agent returns the agent with the given id.
func (s *Simulator) Agent(id market.AgentID) (agent.Agent, bool) {
	if id < 0 || int(id) >= len(s.agents) {
		return nil, false
	}
	return s.agents[id], true
}

// Agents returns every agent in id order.
func (s *Simulator) Agents() []agent.Agent {
	return append([]agent.Agent(nil), s.agents...)
}

// AgentIDs returns every agent id in order.
func (s *Simulator) AgentIDs() []market.AgentID {
	out := make([]market.AgentID, len(s.agents))
	for i, a := range s.agents {
		out[i] = a.ID()
	}
	return out
}

// Sessions returns the sessions in order.
func (s *Simulator) Sessions() []*session.Session {
	out := make([]*session.Session, len(s.sessions))
	for i, r := range s.sessions {
		out[i] = r.sess
	}
	return out
}

// TotalSteps is the number of steps across every session.
func (s *Simulator) TotalSteps() int64 {
	if len(s.sessions) == 0 {
		return 0
	}
	return s.sessions[len(s.sessions)-1].sess.EndStep()
}

func isIndex(v market.Venue) bool {
	_, ok := v.(*market.IndexMarket)
	return ok
}

func (s *Simulator) check() error {
	if len(s.markets) == 0 {
		return simerr.Config("markets", "at least one market is required")
	}
	if len(s.sessions) == 0 {
		return simerr.Config("sessions", "at least one session is required")
	}
	for _, v := range s.markets {
		if !isIndex(v) && !s.fund.Has(v.ID()) {
			return simerr.Config("markets", "market %q has no fundamental process", v.Name())
		}
	}
	return s.fund.Check()
}

// Run executes every session in order. Validation failures of single orders
// and cancels are reported to agents; any other error aborts the run and is
// returned, leaving the records written so far in the sink.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.configuring("simulator.Run"); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}
	for _, r := range s.sessions {
		r.events.Freeze()
	}
	s.state = Running

	s.sink.Write(logs.SimulationBeginLog{
		RunID:    s.cfg.RunID,
		Seed:     s.cfg.Seed,
		Markets:  len(s.markets),
		Agents:   len(s.agents),
		Sessions: len(s.sessions),
		Steps:    s.TotalSteps(),
		Step:     0,
	})
	for _, r := range s.sessions {
		if err := s.runSession(ctx, r); err != nil {
			s.logger.Error("run aborted", zap.Int("session", r.sess.ID()), zap.Error(err))
			if ferr := s.sink.Flush(ctx); ferr != nil {
				s.logger.Warn("flush after abort failed", zap.Error(ferr))
			}
			return err
		}
	}
	s.sink.Write(logs.SimulationEndLog{
		RunID:      s.cfg.RunID,
		Step:       s.TotalSteps(),
		Steps:      s.stats.Steps,
		Orders:     s.stats.Orders,
		Executions: s.stats.Executions,
	})
	s.state = Finished
	if err := s.sink.Flush(ctx); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	return nil
}

func (s *Simulator) eventSession(sess *session.Session) event.Session {
	return event.Session{ID: sess.ID(), Name: sess.Name(), StartStep: sess.StartStep(), Steps: sess.Config().IterationSteps}
}

func (s *Simulator) runSession(ctx context.Context, r sessionRun) error {
	sess := r.sess
	cfg := sess.Config()
	if err := sess.Begin(); err != nil {
		return err
	}
	s.cur = r
	s.rng = prng.Derive(s.cfg.Seed, prng.LabelSession, sess.ID())
	for _, v := range s.markets {
		v.SetExecution(cfg.WithOrderExecution)
	}
	log := s.logger.With(zap.Int("session", sess.ID()), zap.String("name", sess.Name()))
	log.Info("session begin",
		zap.Int64("start", sess.StartStep()),
		zap.Int64("steps", cfg.IterationSteps),
		zap.Int("hooks", r.events.Len(event.BeforeStep)+r.events.Len(event.BeforeOrder)+r.events.Len(event.AfterOrder)),
	)

	s.sink.Write(logs.SessionBeginLog{
		SessionID: sess.ID(),
		Name:      sess.Name(),
		StartStep: sess.StartStep(),
		Steps:     cfg.IterationSteps,
		WithPrint: cfg.WithPrint,
	})
	if err := r.events.BeforeSession(s.context(event.BeforeSession, sess.StartStep(), nil)); err != nil {
		return err
	}

	for _, t := range sess.Steps() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("session %d interrupted at step %d: %w", sess.ID(), t, err)
		}
		if err := s.step(t); err != nil {
			return err
		}
	}

	if err := r.events.AfterSession(s.context(event.AfterSession, sess.EndStep()-1, nil)); err != nil {
		return err
	}
	s.sink.Write(logs.SessionEndLog{
		SessionID: sess.ID(),
		Name:      sess.Name(),
		EndStep:   sess.EndStep(),
		WithPrint: cfg.WithPrint,
	})
	if err := sess.Finish(); err != nil {
		return err
	}
	s.stats.SessionsFinished++
	log.Info("session end",
		zap.Int64("orders", s.stats.Orders),
		zap.Int64("executions", s.stats.Executions),
	)
	if err := s.sink.Flush(ctx); err != nil {
		return fmt.Errorf("flush records after session %d: %w", sess.ID(), err)
	}
	return nil
}

func (s *Simulator) context(p event.HookPoint, step int64, m market.Reader) *event.Context {
	return &event.Context{
		Point:   p,
		Session: s.eventSession(s.cur.sess),
		Step:    step,
		Market:  m,
		View:    s,
	}
}
