package runner

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/zappabad/marketsim/internal/settings"
	"github.com/zappabad/marketsim/internal/simerr"
)

/*
Config file example (YAML; JSON works as well):

	seed: 42
	simulation:
	  markets: ["Market"]
	  agents: ["RandomAgents"]
	  sessions:
	    - sessionName: warmup
	      iterationSteps: 100
	      withOrderPlacement: true
	      withOrderExecution: false
	    - sessionName: main
	      iterationSteps: 500
	      withOrderPlacement: true
	      withOrderExecution: true
	      events: ["Shock"]
	  loggers: ["Console"]
	Market:
	  class: Market
	  tickSize: 0.01
	  marketPrice: 300
	  fundamentalVolatility: 0.001
	RandomAgents:
	  class: RandomLimitAgent
	  numAgents: 50
	  markets: ["Market"]
	  cashAmount: 10000
	  assetVolume: 50
	Shock:
	  class: FundamentalPriceShock
	  target: Market
	  triggerTime: 100
	  priceChangeRate: -0.1
	Console:
	  class: ConsolePrinter
*/

// Config is a parsed simulation file. Every top-level key other than seed and
// simulation names a group of settings.
type Config struct {
	Seed       *uint64                      `yaml:"seed"`
	Simulation Simulation                   `yaml:"simulation"`
	Groups     map[string]settings.Settings `yaml:",inline"`

	source []byte
}

// Simulation is the simulation block.
type Simulation struct {
	Markets                 []string            `yaml:"markets"`
	Agents                  []string            `yaml:"agents"`
	Sessions                []settings.Settings `yaml:"sessions"`
	Loggers                 []string            `yaml:"loggers"`
	FundamentalCorrelations Correlations        `yaml:"fundamentalCorrelations"`
}

// Correlations lists fundamental correlations between named markets.
type Correlations struct {
	Pairwise []Pair `yaml:"pairwise"`
}

// Pair is written as a three element list: [market, market, correlation].
type Pair struct {
	A, B string
	Corr float64
}

func (p *Pair) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 3 {
		return fmt.Errorf("line %d: pairwise correlation must be [market, market, value]", n.Line)
	}
	if err := n.Content[0].Decode(&p.A); err != nil {
		return err
	}
	if err := n.Content[1].Decode(&p.B); err != nil {
		return err
	}
	return n.Content[2].Decode(&p.Corr)
}

// LoadConfig reads and parses a simulation file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses and validates a simulation file.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, simerr.Config("config", "%v", err)
	}
	cfg.source = append([]byte(nil), data...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Digest fingerprints the file the config was parsed from. It is zero for a
// config built in code.
func (c *Config) Digest() uint64 {
	if len(c.source) == 0 {
		return 0
	}
	return xxhash.Sum64(c.source)
}

// Group returns the settings of a named group.
func (c *Config) Group(name string) (settings.Settings, bool) {
	s, ok := c.Groups[name]
	return s, ok
}

// HasLogger reports whether a logger group of the given class is configured.
func (c *Config) HasLogger(class string) bool {
	for _, name := range c.Simulation.Loggers {
		if got, err := c.Groups[name].String("class", ""); err == nil && got == class {
			return true
		}
	}
	return false
}

// Validate checks that the simulation block is complete and that every group
// it names exists.
func (c *Config) Validate() error {
	sim := c.Simulation
	if len(sim.Markets) == 0 {
		return simerr.Config("simulation.markets", "at least one market group is required")
	}
	if len(sim.Agents) == 0 {
		return simerr.Config("simulation.agents", "at least one agent group is required")
	}
	if len(sim.Sessions) == 0 {
		return simerr.Config("simulation.sessions", "at least one session is required")
	}
	check := func(path string, names []string) error {
		for _, name := range names {
			if _, ok := c.Groups[name]; !ok {
				return simerr.Config(path, "no group named %q", name)
			}
		}
		return nil
	}
	if err := check("simulation.markets", sim.Markets); err != nil {
		return err
	}
	if err := check("simulation.agents", sim.Agents); err != nil {
		return err
	}
	if err := check("simulation.loggers", sim.Loggers); err != nil {
		return err
	}
	for i, s := range sim.Sessions {
		events, err := s.Strings("events")
		if err != nil {
			return err
		}
		if err := check(fmt.Sprintf("simulation.sessions[%d].events", i), events); err != nil {
			return err
		}
	}
	return nil
}
