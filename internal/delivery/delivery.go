// Package delivery prices shipping from a per-box rate table keyed by location.
package delivery

import (
	"strings"

	"shea-order-service/config"

	"github.com/shopspring/decimal"
)

// Quote is the outcome of a lookup. A non-deliverable quote needs manual costing
// and carries a zero Cost.
type Quote struct {
	Deliverable bool
	Cost        decimal.Decimal
}

// Address is the subset of a customer record that drives pricing
type Address struct {
	Country string
	Region  string
	City    string
}

// Line is one cart or order line contributing to the box count
type Line struct {
	Quantity      int
	QuantityInBox int
}

// Calculator looks up per-box rates. City rates win over region rates, region
// rates over the default; addresses outside the home country are not deliverable.
type Calculator struct {
	country     string
	cityRates   map[string]decimal.Decimal
	regionRates map[string]decimal.Decimal
	defaultRate decimal.Decimal
}

// NewCalculator builds a calculator from configuration
func NewCalculator(cfg config.DeliveryConfig) *Calculator {
	c := &Calculator{
		country:     normalize(cfg.Country),
		cityRates:   make(map[string]decimal.Decimal, len(cfg.CityRates)),
		regionRates: make(map[string]decimal.Decimal, len(cfg.RegionRates)),
		defaultRate: cfg.DefaultRate,
	}
	for name, rate := range cfg.CityRates {
		c.cityRates[normalize(name)] = rate
	}
	for name, rate := range cfg.RegionRates {
		c.regionRates[normalize(name)] = rate
	}
	return c
}

// Quote prices delivery of the given number of boxes to addr
func (c *Calculator) Quote(addr Address, boxes int) Quote {
	if normalize(addr.Country) != c.country {
		return Quote{Deliverable: false, Cost: decimal.Zero}
	}
	if boxes < 1 {
		boxes = 1
	}

	rate := c.defaultRate
	if r, ok := c.cityRates[normalize(addr.City)]; ok {
		rate = r
	} else if r, ok := c.regionRates[normalize(addr.Region)]; ok {
		rate = r
	}
	return Quote{Deliverable: true, Cost: rate.Mul(decimal.NewFromInt(int64(boxes)))}
}

// BoxCount is the rounded-up sum of per-line box fractions, at least one box.
// A box size below one is treated as one unit per box.
func BoxCount(lines []Line) int {
	total := decimal.Zero
	for _, l := range lines {
		size := l.QuantityInBox
		if size < 1 {
			size = 1
		}
		total = total.Add(decimal.NewFromInt(int64(l.Quantity)).Div(decimal.NewFromInt(int64(size))))
	}
	boxes := int(total.Ceil().IntPart())
	if boxes < 1 {
		return 1
	}
	return boxes
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
