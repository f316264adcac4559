// core/interaction.go
package core

// Interact runs the pairwise infection check over people, which must be
// sorted by id. For every unordered pair within radius (Manhattan distance)
// an emitting infectious person infects a receptive susceptible one. Both
// directions are checked independently against the flags drawn earlier in
// the tick. It returns the number of new infections.
func Interact(people []*Person, radius int) int {
	infected := 0
	for i := 0; i < len(people); i++ {
		a := people[i]
		for j := i + 1; j < len(people); j++ {
			b := people[j]
			if a.position.Manhattan(b.position) > radius {
				continue
			}
			if a.IsEmitting() && b.IsReceptive() && b.MarkInfected() {
				infected++
			}
			if b.IsEmitting() && a.IsReceptive() && a.MarkInfected() {
				infected++
			}
		}
	}
	return infected
}

// Step notifies onPerson and advances every person by one tick, in order.
func Step(people []*Person, onPerson func(*Person)) {
	for _, p := range people {
		if onPerson != nil {
			onPerson(p)
		}
		p.AdvanceTick()
	}
}
