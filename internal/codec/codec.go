// Package codec кодирует позиции корзины в конверт
// {"type": <тег>, "figure": <JSON параметров строкой>, "count": <число>}
// и строго разбирает его обратно.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

// Теги вариантов в конверте.
const (
	TagCircle   = "Circle"
	TagTriangle = "Triangle"
	// TagSquare записан с опечаткой: так его отправляют существующие клиенты.
	TagSquare = "Sqare"
)

const (
	fieldType      = "type"
	fieldFigure    = "figure"
	fieldCount     = "count"
	fieldPositions = "positions"
)

type circleParams struct {
	Radius float32 `json:"Radius"`
}

type triangleParams struct {
	SideA float32 `json:"SideA"`
	SideB float32 `json:"SideB"`
	SideC float32 `json:"SideC"`
}

type squareParams struct {
	SideA float32 `json:"SideA"`
	SideB float32 `json:"SideB"`
}

// envelope задаёт порядок полей при кодировании.
type envelope struct {
	Type   string `json:"type"`
	Figure string `json:"figure"`
	Count  int    `json:"count"`
}

// DecodePosition разбирает один конверт позиции.
func DecodePosition(data []byte) (domain.CartPosition, error) {
	dec := newDecoder(data)
	pos, err := readPosition(dec)
	if err != nil {
		return domain.CartPosition{}, err
	}
	if err := expectEOF(dec); err != nil {
		return domain.CartPosition{}, err
	}
	return pos, nil
}

// EncodePosition кодирует позицию; фигура обязана быть задана.
func EncodePosition(p domain.CartPosition) ([]byte, error) {
	tag, params, err := EncodeFigure(p.Figure)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: tag, Figure: string(params), Count: p.Count})
}

// DecodeCart разбирает {"positions": [...]} с той же строгостью, что и позиции.
func DecodeCart(data []byte) (domain.Cart, error) {
	dec := newDecoder(data)
	if err := expectDelim(dec, '{'); err != nil {
		return domain.Cart{}, err
	}
	if err := expectKey(dec, fieldPositions); err != nil {
		return domain.Cart{}, err
	}

	tok, err := nextToken(dec)
	if err != nil {
		return domain.Cart{}, err
	}

	var positions []domain.CartPosition
	switch tok {
	case nil:
		// "positions": null означает отсутствие коллекции; ошибку вернёт построение корзины ниже.
	case json.Delim('['):
		positions = make([]domain.CartPosition, 0)
		for dec.More() {
			pos, err := readPosition(dec)
			if err != nil {
				return domain.Cart{}, fmt.Errorf("position %d: %w", len(positions), err)
			}
			positions = append(positions, pos)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return domain.Cart{}, err
		}
	default:
		return domain.Cart{}, fmt.Errorf("%w: %q must be an array, got %v", domain.ErrMalformedInput, fieldPositions, tok)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return domain.Cart{}, err
	}
	if err := expectEOF(dec); err != nil {
		return domain.Cart{}, err
	}
	return domain.NewCart(positions)
}

// EncodeCart кодирует корзину в формат, который принимает DecodeCart.
func EncodeCart(cart domain.Cart) ([]byte, error) {
	positions := cart.Positions()
	raw := make([]json.RawMessage, 0, len(positions))
	for i, p := range positions {
		data, err := EncodePosition(p)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(struct {
		Positions []json.RawMessage `json:"positions"`
	}{Positions: raw})
}

// EncodeFigure возвращает тег варианта и JSON его параметров.
func EncodeFigure(f domain.Figure) (string, []byte, error) {
	var (
		tag    string
		params any
	)
	switch v := f.(type) {
	case domain.Circle:
		tag, params = TagCircle, circleParams{Radius: v.Radius()}
	case domain.Triangle:
		a, b, c := v.Sides()
		tag, params = TagTriangle, triangleParams{SideA: a, SideB: b, SideC: c}
	case domain.Square:
		a, b := v.Sides()
		tag, params = TagSquare, squareParams{SideA: a, SideB: b}
	case nil:
		return "", nil, fmt.Errorf("%w: position has no figure", domain.ErrValidation)
	default:
		return "", nil, fmt.Errorf("%w: unsupported figure %T", domain.ErrValidation, f)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s params: %w", tag, err)
	}
	return tag, data, nil
}

// DecodeFigure выбирает декодер параметров по тегу.
// Для нераспознанного тега возвращается nil-фигура без ошибки.
func DecodeFigure(tag string, params []byte) (domain.Figure, error) {
	switch tag {
	case TagCircle:
		var p circleParams
		if err := decodeParams(params, &p, "Radius"); err != nil {
			return nil, err
		}
		return domain.NewCircle(p.Radius)
	case TagTriangle:
		var p triangleParams
		if err := decodeParams(params, &p, "SideA", "SideB", "SideC"); err != nil {
			return nil, err
		}
		return domain.NewTriangle(p.SideA, p.SideB, p.SideC)
	case TagSquare:
		var p squareParams
		if err := decodeParams(params, &p, "SideA", "SideB"); err != nil {
			return nil, err
		}
		return domain.NewSquare(p.SideA, p.SideB)
	default:
		// Неизвестный тег (в том числе "Square") не считается ошибкой формата.
		return nil, nil
	}
}

func readPosition(dec *json.Decoder) (domain.CartPosition, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return domain.CartPosition{}, err
	}
	tag, err := readStringMember(dec, fieldType)
	if err != nil {
		return domain.CartPosition{}, err
	}
	payload, err := readStringMember(dec, fieldFigure)
	if err != nil {
		return domain.CartPosition{}, err
	}
	count, err := readIntMember(dec, fieldCount)
	if err != nil {
		return domain.CartPosition{}, err
	}
	if err := expectDelim(dec, '}'); err != nil {
		return domain.CartPosition{}, err
	}

	figure, err := DecodeFigure(tag, []byte(payload))
	if err != nil {
		return domain.CartPosition{}, err
	}
	return domain.CartPosition{Figure: figure, Count: count}, nil
}

// decodeParams разбирает JSON параметров фигуры. Имена полей сверяются
// с members точно, с учётом регистра.
func decodeParams(data []byte, dst any, members ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: figure payload: %v", domain.ErrMalformedInput, err)
	}
	for key := range raw {
		if !slices.Contains(members, key) {
			return fmt.Errorf("%w: figure payload: unknown member %q", domain.ErrMalformedInput, key)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: figure payload: %v", domain.ErrMalformedInput, err)
	}
	return expectEOF(dec)
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}

func nextToken(dec *json.Decoder) (json.Token, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: unexpected end of input", domain.ErrMalformedInput)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return tok, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := nextToken(dec)
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", domain.ErrMalformedInput, want, tok)
	}
	return nil
}

func expectKey(dec *json.Decoder, name string) error {
	tok, err := nextToken(dec)
	if err != nil {
		return err
	}
	if key, ok := tok.(string); !ok || key != name {
		return fmt.Errorf("%w: expected member %q, got %v", domain.ErrMalformedInput, name, tok)
	}
	return nil
}

func readStringMember(dec *json.Decoder, name string) (string, error) {
	if err := expectKey(dec, name); err != nil {
		return "", err
	}
	tok, err := nextToken(dec)
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", domain.ErrMalformedInput, name, tok)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %q must not be empty", domain.ErrMalformedInput, name)
	}
	return s, nil
}

func readIntMember(dec *json.Decoder, name string) (int, error) {
	if err := expectKey(dec, name); err != nil {
		return 0, err
	}
	tok, err := nextToken(dec)
	if err != nil {
		return 0, err
	}
	num, ok := tok.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number, got %T", domain.ErrMalformedInput, name, tok)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %q must be an integer, got %s", domain.ErrMalformedInput, name, num)
	}
	return int(n), nil
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected trailing data", domain.ErrMalformedInput)
	}
	return nil
}
