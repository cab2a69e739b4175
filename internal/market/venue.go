package market

// Venue is the mutable surface of a market, used only by the simulator.
type Venue interface {
	Reader
	BeginStep(step int64, fundamental float64) error
	SetExecution(on bool)
	SetRunning(on bool)
	SetFundamental(v float64)
	Validate(o Order) error
	Submit(o Order) (SubmitReport, error)
	Cancel(c Cancel) (Canceled, error)
	StepMatch() []Execution
	EndStep() ([]Canceled, error)
	Snapshot() Snapshot
}

var (
	_ Venue = (*Market)(nil)
	_ Venue = (*IndexMarket)(nil)
)
