package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Множители цены за единицу площади.
var (
	TriangleMultiplier = decimal.RequireFromString("1.2")
	CircleMultiplier   = decimal.RequireFromString("0.9")
)

// Order хранит оценённый набор фигур. Количество из корзины в заказ не переносится.
type Order struct {
	id        string
	positions []Figure
	createdAt time.Time
}

// NewOrder создаёт заказ из непустого списка фигур.
func NewOrder(figures []Figure) (Order, error) {
	if len(figures) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one figure", ErrValidation)
	}
	for i, f := range figures {
		if f == nil {
			return Order{}, fmt.Errorf("%w: order position %d has no figure", ErrValidation, i)
		}
	}
	cp := make([]Figure, len(figures))
	copy(cp, figures)
	return Order{
		id:        uuid.NewString(),
		positions: cp,
		createdAt: time.Now().UTC(),
	}, nil
}

// NewOrderFromCart проецирует корзину в заказ: остаются только фигуры.
func NewOrderFromCart(cart Cart) (Order, error) {
	figures := make([]Figure, 0, cart.Len())
	for _, p := range cart.positions {
		figures = append(figures, p.Figure)
	}
	return NewOrder(figures)
}

// RestoreOrder собирает заказ из сохранённого состояния (используется репозиториями).
func RestoreOrder(id string, figures []Figure, createdAt time.Time) (Order, error) {
	order, err := NewOrder(figures)
	if err != nil {
		return Order{}, err
	}
	order.id = id
	order.createdAt = createdAt
	return order, nil
}

func (o Order) ID() string { return o.id }

func (o Order) CreatedAt() time.Time { return o.createdAt }

// Positions возвращает копию фигур заказа.
func (o Order) Positions() []Figure {
	cp := make([]Figure, len(o.positions))
	copy(cp, o.positions)
	return cp
}

// Total суммирует площадь каждой фигуры, умноженную на множитель её варианта.
// Варианты без множителя (квадрат) стоят ноль.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.positions {
		total = total.Add(decimal.NewFromFloat(f.Area()).Mul(Multiplier(f)))
	}
	return total
}

// Multiplier возвращает ценовой множитель варианта фигуры.
func Multiplier(f Figure) decimal.Decimal {
	switch f.(type) {
	case Triangle:
		return TriangleMultiplier
	case Circle:
		return CircleMultiplier
	default:
		return decimal.Zero
	}
}
