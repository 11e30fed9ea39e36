package domain

import "math"

// FigureType задаёт имя варианта фигуры. Совпадает с ключом счётчика остатков.
type FigureType string

const (
	FigureTypeCircle   FigureType = "Circle"
	FigureTypeTriangle FigureType = "Triangle"
	FigureTypeSquare   FigureType = "Square"
)

// Figure объединяет закрытое множество фигур, которые можно заказать.
type Figure interface {
	// Area возвращает площадь фигуры.
	Area() float64
	// Type возвращает имя варианта.
	Type() FigureType
}

// Circle задаёт круг с положительным радиусом.
type Circle struct {
	radius float32
}

// NewCircle создаёт круг. Радиус должен быть конечным и строго положительным.
func NewCircle(radius float32) (Circle, error) {
	if !(radius > 0) {
		return Circle{}, &invariantError{figure: FigureTypeCircle, constraint: "radius must be greater than zero"}
	}
	if !finite(radius) {
		return Circle{}, &invariantError{figure: FigureTypeCircle, constraint: "radius must be finite"}
	}
	return Circle{radius: radius}, nil
}

func (c Circle) Radius() float32 { return c.radius }

func (c Circle) Type() FigureType { return FigureTypeCircle }

func (c Circle) Area() float64 {
	r := float64(c.radius)
	return math.Pi * r * r
}

// Triangle задаёт треугольник, для сторон которого выполняется строгое неравенство треугольника.
type Triangle struct {
	sideA, sideB, sideC float32
}

// NewTriangle создаёт треугольник. Каждая сторона строго меньше суммы двух других,
// что заодно исключает нулевые и отрицательные стороны.
func NewTriangle(sideA, sideB, sideC float32) (Triangle, error) {
	if !finite(sideA, sideB, sideC) {
		return Triangle{}, &invariantError{figure: FigureTypeTriangle, constraint: "sides must be finite"}
	}
	if !(sideA < sideB+sideC) {
		return Triangle{}, &invariantError{figure: FigureTypeTriangle, constraint: "side a must be less than b + c"}
	}
	if !(sideB < sideA+sideC) {
		return Triangle{}, &invariantError{figure: FigureTypeTriangle, constraint: "side b must be less than a + c"}
	}
	if !(sideC < sideA+sideB) {
		return Triangle{}, &invariantError{figure: FigureTypeTriangle, constraint: "side c must be less than a + b"}
	}
	return Triangle{sideA: sideA, sideB: sideB, sideC: sideC}, nil
}

func (t Triangle) Sides() (a, b, c float32) { return t.sideA, t.sideB, t.sideC }

func (t Triangle) Type() FigureType { return FigureTypeTriangle }

// Area считает площадь по формуле Герона.
func (t Triangle) Area() float64 {
	a, b, c := float64(t.sideA), float64(t.sideB), float64(t.sideC)
	p := (a + b + c) / 2
	return math.Sqrt(p * (p - a) * (p - b) * (p - c))
}

// Square задаёт квадрат двумя сторонами, которые обязаны совпадать.
type Square struct {
	sideA, sideB float32
}

// NewSquare создаёт квадрат. Сравнение сторон точное, без допуска.
func NewSquare(sideA, sideB float32) (Square, error) {
	if !(sideA > 0) {
		return Square{}, &invariantError{figure: FigureTypeSquare, constraint: "side a must be greater than zero"}
	}
	if !finite(sideA, sideB) {
		return Square{}, &invariantError{figure: FigureTypeSquare, constraint: "sides must be finite"}
	}
	if sideA != sideB {
		return Square{}, &invariantError{figure: FigureTypeSquare, constraint: "sides a and b must be equal"}
	}
	return Square{sideA: sideA, sideB: sideB}, nil
}

func (s Square) Sides() (a, b float32) { return s.sideA, s.sideB }

func (s Square) Type() FigureType { return FigureTypeSquare }

func (s Square) Area() float64 {
	a := float64(s.sideA)
	return a * a
}

// finite сообщает, что ни одно значение не является NaN или бесконечностью.
func finite(values ...float32) bool {
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

var (
	_ Figure = Circle{}
	_ Figure = Triangle{}
	_ Figure = Square{}
)
