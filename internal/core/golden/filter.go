package golden

// Predicate decides eligibility of a single (run, lumi) pair
type Predicate func(run, lumi int64) bool

// AcceptAll is the simulation predicate: every event is eligible
func AcceptAll(int64, int64) bool { return true }

// Keyed is anything that carries a run and luminosity block
type Keyed interface {
	RunLumi() (run, lumi int64)
}

// Filter returns the eligibility mask for events, eligible[i] = pred(events[i])
// a nil predicate accepts everything
func Filter[E Keyed](pred Predicate, events []E) []bool {
	if pred == nil {
		pred = AcceptAll
	}
	mask := make([]bool, len(events))
	for i, ev := range events {
		run, lumi := ev.RunLumi()
		mask[i] = pred(run, lumi)
	}
	return mask
}

// ForDataset picks the predicate for a sample: the registry for data,
// AcceptAll for simulation regardless of what reg holds
func ForDataset(isData bool, reg *Registry) Predicate {
	if !isData {
		return AcceptAll
	}
	return reg.Predicate()
}
