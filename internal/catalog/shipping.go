package catalog

import "fmt"

type WeightUnit string

const (
	Kilograms WeightUnit = "kg"
	Grams     WeightUnit = "g"
	Pounds    WeightUnit = "lb"
	Ounces    WeightUnit = "oz"
)

var gramsPer = map[WeightUnit]float64{
	Kilograms: 1000,
	Grams:     1,
	Pounds:    453.59237,
	Ounces:    28.34952,
}

type ShippingWeight struct {
	Value float64    `json:"value" validate:"gte=0"`
	Unit  WeightUnit `json:"unit" validate:"oneof=kg g lb oz"`
}

// ConvertTo expresses the weight in unit, converting through grams.
func (w ShippingWeight) ConvertTo(unit WeightUnit) (ShippingWeight, error) {
	from, ok := gramsPer[w.Unit]
	if !ok {
		return ShippingWeight{}, fmt.Errorf("unknown weight unit %q", w.Unit)
	}
	to, ok := gramsPer[unit]
	if !ok {
		return ShippingWeight{}, fmt.Errorf("unknown weight unit %q", unit)
	}
	if w.Unit == unit {
		return w, nil
	}
	return ShippingWeight{Value: w.Value * from / to, Unit: unit}, nil
}

type DimensionUnit string

const (
	Centimeters DimensionUnit = "cm"
	Inches      DimensionUnit = "in"
	Meters      DimensionUnit = "m"
	Feet        DimensionUnit = "ft"
)

type ShippingDimensions struct {
	Length float64       `json:"length" validate:"gte=0"`
	Width  float64       `json:"width" validate:"gte=0"`
	Height float64       `json:"height" validate:"gte=0"`
	Unit   DimensionUnit `json:"unit" validate:"oneof=cm in m ft"`
	Girth  *float64      `json:"girth,omitempty" validate:"omitempty,gte=0"`
}

// EffectiveGirth is the declared girth, or 2 × (width + height).
func (d ShippingDimensions) EffectiveGirth() float64 {
	if d.Girth != nil {
		return *d.Girth
	}
	return 2 * (d.Width + d.Height)
}
