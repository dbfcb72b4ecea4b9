package measure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownItem         = errors.New("unknown item")
	ErrIncompleteAnswerSet = errors.New("incomplete answer set")
	ErrResponseOutOfRange  = errors.New("response out of range")
	ErrInvalidDefinition   = errors.New("invalid measure definition")
	ErrNotFound            = errors.New("not found")
	ErrAlreadySubmitted    = errors.New("form already submitted")
	ErrMeasureInactive     = errors.New("measure is retired")
)

// ErrorKind classifies a ScoringError.
type ErrorKind string

const (
	KindUnknownItem         ErrorKind = "UnknownItem"
	KindIncompleteAnswerSet ErrorKind = "IncompleteAnswerSet"
	KindResponseOutOfRange  ErrorKind = "ResponseOutOfRange"
)

// ScoringError is returned by Score when an answer set cannot be scored.
// Items holds item codes, or item ids for answers that match no item.
type ScoringError struct {
	Kind        ErrorKind
	MeasureCode string
	Items       []string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("score %s: %s: %s", e.MeasureCode, e.Unwrap(), strings.Join(e.Items, ", "))
}

func (e *ScoringError) Unwrap() error {
	switch e.Kind {
	case KindUnknownItem:
		return ErrUnknownItem
	case KindIncompleteAnswerSet:
		return ErrIncompleteAnswerSet
	default:
		return ErrResponseOutOfRange
	}
}

// SubscaleBoundsWarning records a subscale score outside its declared range.
// It never fails scoring.
type SubscaleBoundsWarning struct {
	Subscale string          `json:"subscale"`
	Score    decimal.Decimal `json:"score"`
	Min      *int            `json:"min,omitempty"`
	Max      *int            `json:"max,omitempty"`
}

func (w SubscaleBoundsWarning) String() string {
	return fmt.Sprintf("subscale %s score %s outside declared bounds", w.Subscale, w.Score)
}
