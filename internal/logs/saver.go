package logs

// Recorder keeps every record it processes, in order.
type Recorder struct {
	Records []Record
}

func (r *Recorder) ProcessOrder(l OrderLog)                     { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessCancel(l CancelLog)                   { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessExecution(l ExecutionLog)             { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessSimulationBegin(l SimulationBeginLog) { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessSimulationEnd(l SimulationEndLog)     { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessSessionBegin(l SessionBeginLog)       { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessSessionEnd(l SessionEndLog)           { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessMarketStepBegin(l MarketStepBeginLog) { r.Records = append(r.Records, l) }
func (r *Recorder) ProcessMarketStepEnd(l MarketStepEndLog)     { r.Records = append(r.Records, l) }

// Kinds returns the kind of every record, in order.
func (r *Recorder) Kinds() []string {
	out := make([]string, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Kind()
	}
	return out
}

// MarketStepSaver keeps the end-of-step summaries.
type MarketStepSaver struct {
	Nop
	Steps []MarketStepEndLog
}

func (s *MarketStepSaver) ProcessMarketStepEnd(l MarketStepEndLog) { s.Steps = append(s.Steps, l) }

// Prices returns the saved market prices of one market in step order.
func (s *MarketStepSaver) Prices(id int) []float64 {
	var out []float64
	for _, l := range s.Steps {
		if int(l.MarketID) == id {
			out = append(out, l.MarketPrice)
		}
	}
	return out
}

// ExecutionSaver keeps every execution.
type ExecutionSaver struct {
	Nop
	Executions []ExecutionLog
}

func (s *ExecutionSaver) ProcessExecution(l ExecutionLog) { s.Executions = append(s.Executions, l) }
