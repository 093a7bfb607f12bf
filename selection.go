package lookupd

// SelectionStrategy chooses one element from a non-empty candidate list.
// Rotation state, when the strategy keeps any, is addressed by rot - a
// stable identity supplied by the controller (a cache entry's own counter
// when one exists, or a per-host counter for hosts-overlay / combined
// lookups that have none).
type SelectionStrategy interface {
	ChooseOne(rot *rotationCounter, candidates []AddressResult) (AddressResult, error)
}

// RoundRobinSelection is the default SelectionStrategy. Given the same
// rotation counter, it returns element 0, 1, 2, ..., wrapping back to 0.
type RoundRobinSelection struct{}

func (RoundRobinSelection) ChooseOne(rot *rotationCounter, candidates []AddressResult) (AddressResult, error) {
	if len(candidates) == 0 {
		return AddressResult{}, errEmptyArray
	}
	idx := rot.next(len(candidates))
	return candidates[idx], nil
}
