package domain

import "fmt"

// CartPosition описывает строку корзины: фигуру и количество единиц.
// Count на этапе построения не проверяется, его проверяет оркестратор.
// Figure равен nil, если тег фигуры в конверте не распознан.
type CartPosition struct {
	Figure Figure
	Count  int
}

// Cart хранит непустую упорядоченную последовательность позиций.
type Cart struct {
	positions []CartPosition
}

// NewCart создаёт корзину. Пустой или nil список позиций недопустим.
func NewCart(positions []CartPosition) (Cart, error) {
	if len(positions) == 0 {
		return Cart{}, fmt.Errorf("%w: cart must contain at least one position", ErrValidation)
	}
	cp := make([]CartPosition, len(positions))
	copy(cp, positions)
	return Cart{positions: cp}, nil
}

// Positions возвращает копию позиций в исходном порядке.
func (c Cart) Positions() []CartPosition {
	cp := make([]CartPosition, len(c.positions))
	copy(cp, c.positions)
	return cp
}

// Len возвращает количество позиций.
func (c Cart) Len() int { return len(c.positions) }
