package measure

import (
	"fmt"

	"github.com/google/uuid"
)

// Domain returns the inclusive response range of the item. Numeric items
// without MaxValue are unbounded above.
func (i *Item) Domain() (lo, hi int, bounded bool) {
	switch i.Scale {
	case ScaleLikert0To4:
		return 0, 4, true
	case ScaleLikert1To5:
		return 1, 5, true
	case ScaleYesNo:
		return 0, 1, true
	default:
		if i.MaxValue != nil {
			return 0, *i.MaxValue, true
		}
		return 0, 0, false
	}
}

// Effective converts a raw response into the value that is summed.
// Reverse-scored items contribute scaleMax - raw.
func (i *Item) Effective(raw int) (int, error) {
	lo, hi, bounded := i.Domain()
	if raw < lo || (bounded && raw > hi) {
		return 0, fmt.Errorf("item %s: %w: %d", i.Code, ErrResponseOutOfRange, raw)
	}
	if i.ReverseScored {
		return hi - raw, nil
	}
	return raw, nil
}

func (i *Item) triggersRisk(effective int) bool {
	return i.RiskItem && i.RiskThreshold != nil && effective >= *i.RiskThreshold
}

// Resolution is the outcome of resolving one answer against a definition.
type Resolution struct {
	Item      *Item
	Effective int
	Risk      bool
	Subscales []string
}

// Resolve looks up itemID and computes its effective value.
func (d *Definition) Resolve(itemID uuid.UUID, raw int) (*Resolution, error) {
	item := d.ItemByID(itemID)
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	v, err := item.Effective(raw)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Item: item, Effective: v, Risk: item.triggersRisk(v)}
	for _, s := range d.Subscales {
		for _, code := range s.ItemCodes {
			if code == item.Code {
				res.Subscales = append(res.Subscales, s.Name)
				break
			}
		}
	}
	return res, nil
}

func (d *Definition) ItemByID(id uuid.UUID) *Item {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return &d.Items[i]
		}
	}
	return nil
}

func (d *Definition) ItemByCode(code string) *Item {
	for i := range d.Items {
		if d.Items[i].Code == code {
			return &d.Items[i]
		}
	}
	return nil
}

// Validate checks structural integrity. It does not touch storage.
func (d *Definition) Validate() error {
	if d.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidDefinition)
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: %s has no items", ErrInvalidDefinition, d.Code)
	}

	ids := make(map[uuid.UUID]bool, len(d.Items))
	codes := make(map[string]bool, len(d.Items))
	for i := range d.Items {
		item := &d.Items[i]
		if item.Code == "" {
			return fmt.Errorf("%w: item %d has no code", ErrInvalidDefinition, item.Number)
		}
		if codes[item.Code] {
			return fmt.Errorf("%w: duplicate item code %s", ErrInvalidDefinition, item.Code)
		}
		codes[item.Code] = true
		if item.ID != uuid.Nil {
			if ids[item.ID] {
				return fmt.Errorf("%w: duplicate item id %s", ErrInvalidDefinition, item.ID)
			}
			ids[item.ID] = true
		}

		switch item.Scale {
		case ScaleLikert0To4, ScaleLikert1To5, ScaleYesNo:
		case ScaleNumeric:
			if item.MaxValue != nil && *item.MaxValue <= 0 {
				return fmt.Errorf("%w: item %s max_value must be positive", ErrInvalidDefinition, item.Code)
			}
			if item.ReverseScored && item.MaxValue == nil {
				return fmt.Errorf("%w: reverse-scored numeric item %s needs max_value", ErrInvalidDefinition, item.Code)
			}
		default:
			return fmt.Errorf("%w: item %s has unknown scale %q", ErrInvalidDefinition, item.Code, item.Scale)
		}

		if item.RiskItem && item.RiskThreshold == nil {
			return fmt.Errorf("%w: risk item %s needs risk_threshold", ErrInvalidDefinition, item.Code)
		}
	}

	names := make(map[string]bool, len(d.Subscales))
	for _, s := range d.Subscales {
		if s.Name == "" {
			return fmt.Errorf("%w: subscale without name", ErrInvalidDefinition)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate subscale %s", ErrInvalidDefinition, s.Name)
		}
		names[s.Name] = true
		if len(s.ItemCodes) == 0 {
			return fmt.Errorf("%w: subscale %s has no items", ErrInvalidDefinition, s.Name)
		}
		for _, code := range s.ItemCodes {
			if !codes[code] {
				return fmt.Errorf("%w: subscale %s references unknown item %s", ErrInvalidDefinition, s.Name, code)
			}
		}
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return fmt.Errorf("%w: subscale %s min exceeds max", ErrInvalidDefinition, s.Name)
		}
	}
	return nil
}

// AssignIDs gives every item and subscale without an id a fresh one.
func (d *Definition) AssignIDs() {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	for i := range d.Items {
		if d.Items[i].ID == uuid.Nil {
			d.Items[i].ID = uuid.New()
		}
		d.Items[i].MeasureID = d.ID
	}
	for i := range d.Subscales {
		if d.Subscales[i].ID == uuid.Nil {
			d.Subscales[i].ID = uuid.New()
		}
		d.Subscales[i].MeasureID = d.ID
	}
}
