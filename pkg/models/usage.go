package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsagePoint is a single day's electricity usage as reported by SmartHub
type UsagePoint struct {
	Timestamp int64   `json:"timestamp"` // Milliseconds since epoch (UTC)
	KWh       float64 `json:"kwh"`
}

// Time returns the point's timestamp as a UTC time
func (p UsagePoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// DateLabel returns the UTC calendar day of the point
func (p UsagePoint) DateLabel() string {
	return p.Time().Format("2006-01-02")
}

// Rate holds the three rate line items that follow the "Energy Charge" label
// on the provider's rate schedule, in page order.
type Rate struct {
	Base           decimal.Decimal `json:"base"`
	FuelAdjustment decimal.Decimal `json:"fuel_adjustment"`
	EnergyCharge   decimal.Decimal `json:"energy_charge"`
}

// PerKWh returns the price per kWh used for cost estimates
func (r Rate) PerKWh() decimal.Decimal {
	return r.EnergyCharge
}
