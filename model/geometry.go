package model

import "fmt"

// XY is an integer grid coordinate or extent.
type XY struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Add returns the component-wise sum of p and o.
func (p XY) Add(o XY) XY { return XY{X: p.X + o.X, Y: p.Y + o.Y} }

// Sub returns the component-wise difference p - o.
func (p XY) Sub(o XY) XY { return XY{X: p.X - o.X, Y: p.Y - o.Y} }

// Neg returns the negated vector.
func (p XY) Neg() XY { return XY{X: -p.X, Y: -p.Y} }

// Manhattan returns the L1 distance between p and o.
func (p XY) Manhattan(o XY) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

func (p XY) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Rectangle is an axis-aligned region covering the half-open ranges
// [TopLeft.X, TopLeft.X+Size.X) x [TopLeft.Y, TopLeft.Y+Size.Y).
type Rectangle struct {
	TopLeft XY `json:"top_left" yaml:"top_left"`
	Size    XY `json:"size" yaml:"size"`
}

// NewRectangle builds the rectangle spanning [lo, hi) on both axes.
func NewRectangle(lo, hi XY) Rectangle {
	return Rectangle{TopLeft: lo, Size: hi.Sub(lo)}
}

// BottomRight returns the exclusive lower-right corner.
func (r Rectangle) BottomRight() XY { return r.TopLeft.Add(r.Size) }

// Empty reports whether r covers no cells.
func (r Rectangle) Empty() bool { return r.Size.X <= 0 || r.Size.Y <= 0 }

// Area returns the number of cells covered by r.
func (r Rectangle) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Size.X * r.Size.Y
}

// Contains reports whether p lies inside r. Cells on the lower/right edge
// belong to the neighbouring rectangle.
func (r Rectangle) Contains(p XY) bool {
	br := r.BottomRight()
	return p.X >= r.TopLeft.X && p.X < br.X && p.Y >= r.TopLeft.Y && p.Y < br.Y
}

// Overlaps reports whether r and o share at least one cell.
func (r Rectangle) Overlaps(o Rectangle) bool {
	return !r.Intersect(o).Empty()
}

// Intersect returns the common region of r and o, which may be empty.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	a, b := r.BottomRight(), o.BottomRight()
	lo := XY{X: max(r.TopLeft.X, o.TopLeft.X), Y: max(r.TopLeft.Y, o.TopLeft.Y)}
	hi := XY{X: max(lo.X, min(a.X, b.X)), Y: max(lo.Y, min(a.Y, b.Y))}
	return NewRectangle(lo, hi)
}

// Expand grows r by n cells on every side.
func (r Rectangle) Expand(n int) Rectangle {
	return Rectangle{
		TopLeft: XY{X: r.TopLeft.X - n, Y: r.TopLeft.Y - n},
		Size:    XY{X: r.Size.X + 2*n, Y: r.Size.Y + 2*n},
	}
}

// Cells calls fn for every cell of r in row-major order until fn returns false.
func (r Rectangle) Cells(fn func(XY) bool) {
	br := r.BottomRight()
	for y := r.TopLeft.Y; y < br.Y; y++ {
		for x := r.TopLeft.X; x < br.X; x++ {
			if !fn(XY{X: x, Y: y}) {
				return
			}
		}
	}
}

func (r Rectangle) String() string {
	return fmt.Sprintf("[%s..%s)", r.TopLeft, r.BottomRight())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
