package metrics

// MultiSink forwards records to several sinks. Optional recorders are only
// called on sinks implementing them.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDecision forwards the record to all sinks, returning the first error.
func (m *MultiSink) RecordDecision(rec DecisionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordDecision(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordSlots forwards slot budgets.
func (m *MultiSink) RecordSlots(slots []SlotBudget) error {
	for _, s := range m.Sinks {
		if r, ok := s.(SlotRecorder); ok {
			if err := r.RecordSlots(slots); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSchedule forwards schedule changes.
func (m *MultiSink) RecordSchedule(rec ScheduleRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(ScheduleRecorder); ok {
			if err := r.RecordSchedule(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
