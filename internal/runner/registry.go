package runner

import (
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/agent"
	"github.com/zappabad/marketsim/internal/agent/strategy"
	"github.com/zappabad/marketsim/internal/event"
	"github.com/zappabad/marketsim/internal/event/builtin"
	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/logs/console"
	"github.com/zappabad/marketsim/internal/logs/metrics"
	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

// Market classes the runner builds itself.
const (
	ClassMarket      = "Market"
	ClassIndexMarket = "IndexMarket"

	ClassConsolePrinter = "ConsolePrinter"
)

type (
	AgentFactory     func() agent.Agent
	EventFactory     func() event.Event
	ProcessorFactory func(s settings.Settings, env ProcessorEnv) (logs.Processor, error)
)

// ProcessorEnv is what a processor factory receives.
type ProcessorEnv struct {
	Name   string
	Stdout io.Writer
	Logger *zap.Logger
}

// Registry maps class names to constructors. It is owned by one Runner and
// frozen when the run is set up.
type Registry struct {
	agents     map[string]AgentFactory
	events     map[string]EventFactory
	processors map[string]ProcessorFactory
	frozen     bool
}

func NewRegistry() *Registry {
	return &Registry{
		agents:     make(map[string]AgentFactory),
		events:     make(map[string]EventFactory),
		processors: make(map[string]ProcessorFactory),
	}
}

// DefaultRegistry knows the bundled agents, events and processors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.agents["RandomLimitAgent"] = func() agent.Agent { return strategy.NewRandomLimit() }
	r.agents["SpreadImprover"] = func() agent.Agent { return strategy.NewSpreadImprover() }
	for name, f := range builtin.Constructors {
		r.events[name] = f
	}
	r.processors[ClassConsolePrinter] = newConsole
	r.processors["PrometheusTextfile"] = newTextfile
	r.processors["MarketStepSaver"] = func(settings.Settings, ProcessorEnv) (logs.Processor, error) {
		return &logs.MarketStepSaver{}, nil
	}
	r.processors["ExecutionSaver"] = func(settings.Settings, ProcessorEnv) (logs.Processor, error) {
		return &logs.ExecutionSaver{}, nil
	}
	r.processors["Recorder"] = func(settings.Settings, ProcessorEnv) (logs.Processor, error) {
		return &logs.Recorder{}, nil
	}
	return r
}

func (r *Registry) open(kind, name string) error {
	if r.frozen {
		return simerr.Config("registry", "cannot register %s %q: registry is frozen", kind, name)
	}
	if name == "" {
		return simerr.Config("registry", "%s name is empty", kind)
	}
	return nil
}

// RegisterAgent adds or replaces an agent class.
func (r *Registry) RegisterAgent(name string, f AgentFactory) error {
	if err := r.open("agent", name); err != nil {
		return err
	}
	r.agents[name] = f
	return nil
}

// RegisterEvent adds or replaces an event class.
func (r *Registry) RegisterEvent(name string, f EventFactory) error {
	if err := r.open("event", name); err != nil {
		return err
	}
	r.events[name] = f
	return nil
}

// RegisterProcessor adds or replaces a log processor class.
func (r *Registry) RegisterProcessor(name string, f ProcessorFactory) error {
	if err := r.open("processor", name); err != nil {
		return err
	}
	r.processors[name] = f
	return nil
}

func (r *Registry) Freeze()      { r.frozen = true }
func (r *Registry) Frozen() bool { return r.frozen }

func (r *Registry) agent(path, class string) (agent.Agent, error) {
	f, ok := r.agents[class]
	if !ok {
		return nil, simerr.Config(path, "unknown agent class %q (known: %v)", class, keys(r.agents))
	}
	return f(), nil
}

func (r *Registry) event(path, class string) (event.Event, error) {
	f, ok := r.events[class]
	if !ok {
		return nil, simerr.Config(path, "unknown event class %q (known: %v)", class, keys(r.events))
	}
	return f(), nil
}

func (r *Registry) processor(path, class string) (ProcessorFactory, error) {
	f, ok := r.processors[class]
	if !ok {
		return nil, simerr.Config(path, "unknown logger class %q (known: %v)", class, keys(r.processors))
	}
	return f, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// newConsole reads progressEvery, progressWidth and executions.
func newConsole(s settings.Settings, env ProcessorEnv) (logs.Processor, error) {
	cfg := console.DefaultConfig()
	every, err := s.Int("progressEvery", cfg.ProgressEvery)
	if err != nil {
		return nil, err
	}
	width, err := s.Int("progressWidth", int64(cfg.ProgressWidth))
	if err != nil {
		return nil, err
	}
	if cfg.Executions, err = s.Bool("executions", false); err != nil {
		return nil, err
	}
	cfg.ProgressEvery, cfg.ProgressWidth = every, int(width)
	return console.New(env.Stdout, cfg), nil
}

// newTextfile exports metrics to the file named by path on every flush.
func newTextfile(s settings.Settings, env ProcessorEnv) (logs.Processor, error) {
	path, err := s.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, simerr.Config(env.Name+".path", "is required")
	}
	return metrics.New(prometheus.NewRegistry(), path), nil
}
