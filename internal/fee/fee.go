// Package fee turns a contract snapshot into invoice line items and totals.
package fee

import (
	"errors"
	"fmt"
)

var ErrInvalidFeeConfiguration = errors.New("invalid_fee_configuration")

type LineKind string

const (
	LineBase      LineKind = "base"
	LinePackage   LineKind = "package"
	LineSetup     LineKind = "setup"
	LineProration LineKind = "proration"
	LineDiscount  LineKind = "discount"
)

type Package struct {
	ID   int64
	Name string
	Fee  int64
}

// Proration bills only BilledDays of a PeriodDays-long first period.
type Proration struct {
	BilledDays int
	PeriodDays int
}

func (p Proration) active() bool {
	return p.PeriodDays > 0 && p.BilledDays >= 0 && p.BilledDays < p.PeriodDays
}

// Snapshot is the fee-relevant state of a contract at invoice time.
type Snapshot struct {
	PlanID             string
	BaseFee            int64
	SeatCount          int
	Packages           []Package
	SetupFee           int64
	FirstMonthDiscount int64
	Proration          Proration
}

type Line struct {
	Kind        LineKind `json:"kind"`
	Description string   `json:"description"`
	Amount      int64    `json:"amount"`
}

type Breakdown struct {
	Lines      []Line `json:"lines"`
	Subtotal   int64  `json:"subtotal"`
	TaxRateBps int64  `json:"tax_rate_bps"`
	Tax        int64  `json:"tax"`
	Total      int64  `json:"total"`
}

// Calculate builds the ordered line items for one invoice. Tax is rounded
// half-up exactly once on the subtotal. When the lines would not produce a
// positive total the breakdown is clamped to zero and returned together with
// ErrInvalidFeeConfiguration.
func Calculate(snap Snapshot, isFirst bool, taxRateBps int64) (Breakdown, error) {
	if err := validate(snap, taxRateBps); err != nil {
		return Breakdown{}, err
	}

	lines := make([]Line, 0, len(snap.Packages)+4)
	lines = append(lines, Line{
		Kind:        LineBase,
		Description: fmt.Sprintf("Plan %s base fee", snap.PlanID),
		Amount:      snap.BaseFee,
	})
	for _, pkg := range snap.Packages {
		lines = append(lines, Line{
			Kind:        LinePackage,
			Description: pkg.Name,
			Amount:      pkg.Fee,
		})
	}

	if isFirst {
		if snap.SetupFee > 0 {
			lines = append(lines, Line{Kind: LineSetup, Description: "Setup fee", Amount: snap.SetupFee})
		}
		if snap.Proration.active() && snap.BaseFee > 0 {
			billed := RoundHalfUp(snap.BaseFee*int64(snap.Proration.BilledDays), int64(snap.Proration.PeriodDays))
			lines = append(lines, Line{
				Kind:        LineProration,
				Description: fmt.Sprintf("Proration (%d/%d days)", snap.Proration.BilledDays, snap.Proration.PeriodDays),
				Amount:      billed - snap.BaseFee,
			})
		}
		if snap.FirstMonthDiscount > 0 {
			discount := snap.FirstMonthDiscount
			if before := sum(lines); discount > before {
				discount = max(before, 0)
			}
			lines = append(lines, Line{Kind: LineDiscount, Description: "First month discount", Amount: -discount})
		}
	}

	out := Breakdown{Lines: lines, TaxRateBps: taxRateBps}
	subtotal := sum(lines)
	if subtotal <= 0 {
		return out, fmt.Errorf("%w: total must be positive", ErrInvalidFeeConfiguration)
	}

	out.Subtotal = subtotal
	out.Tax = RoundHalfUp(subtotal*taxRateBps, 10000)
	out.Total = out.Subtotal + out.Tax
	return out, nil
}

// RoundHalfUp divides num by den rounding halves away from zero. num must be
// non-negative and den positive.
func RoundHalfUp(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}

func validate(snap Snapshot, taxRateBps int64) error {
	switch {
	case snap.BaseFee < 0:
		return fmt.Errorf("%w: negative base fee", ErrInvalidFeeConfiguration)
	case snap.SetupFee < 0:
		return fmt.Errorf("%w: negative setup fee", ErrInvalidFeeConfiguration)
	case snap.FirstMonthDiscount < 0:
		return fmt.Errorf("%w: negative discount", ErrInvalidFeeConfiguration)
	case taxRateBps < 0:
		return fmt.Errorf("%w: negative tax rate", ErrInvalidFeeConfiguration)
	}
	for _, pkg := range snap.Packages {
		if pkg.Fee < 0 {
			return fmt.Errorf("%w: negative fee for package %q", ErrInvalidFeeConfiguration, pkg.Name)
		}
	}
	return nil
}

func sum(lines []Line) int64 {
	var total int64
	for _, line := range lines {
		total += line.Amount
	}
	return total
}
