package slot

// FirstConflict returns the first occupied range that overlaps the requested
// range, in the order the occupied ranges are given. It is a pure predicate:
// callers use it both under a locking read (authoritative, inside the
// reservation transaction) and over cached data (fast pre-check).
func FirstConflict(requested Range, occupied []Occupied) (Occupied, bool) {
	for _, occ := range occupied {
		if requested.Overlaps(occ.Range) {
			return occ, true
		}
	}
	return Occupied{}, false
}

// FirstConflictAmong checks a batch of requested ranges against each other.
// Two ranges within the same request must not overlap on the same sub-field,
// otherwise the insert would trip its own uniqueness constraint.
func FirstConflictAmong(requested []RequestedRange) (int, int, bool) {
	for i := 0; i < len(requested); i++ {
		for j := i + 1; j < len(requested); j++ {
			if requested[i].SubFieldID != requested[j].SubFieldID {
				continue
			}
			if requested[i].Range.Overlaps(requested[j].Range) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
