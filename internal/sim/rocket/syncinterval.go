package rocket

// SyncInterval derives how many ticks patches may advance between two halo
// exchanges without any influence crossing the padding unseen.
//
// Each tick the uncertainty band grows by 2 cells from movement (two people
// walking towards each other) plus the infection radius. A person infected
// at the edge of the band becomes infectious 1+incubation ticks later, so the
// band value recorded back then, grown by the movement since, is combined
// with the radius as a second channel. Every tick whose uncertainty still
// fits inside the padding is safe.
//
// A zero interval yields an *InsufficientPaddingError.
func SyncInterval(radius, incubation, padding int) (int, error) {
	var (
		k         int
		movement  int
		overall   int
		remaining = 1 + incubation
		band      []int
	)
	for overall < padding {
		movement += 2
		for i := range band {
			band[i]++
		}
		remaining--

		overall = movement + radius
		if remaining <= 0 && len(band) > 0 {
			overall = max(overall, band[0]+radius)
			band = band[1:]
		}
		band = append(band, overall)

		if overall <= padding {
			k++
		}
	}
	if k == 0 {
		return 0, &InsufficientPaddingError{Padding: padding}
	}
	return k, nil
}

// MinimalPadding returns the smallest padding for which SyncInterval
// succeeds.
func MinimalPadding(radius int) int {
	return 2 + radius
}
