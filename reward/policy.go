/*
Package reward provides pure reward-policy evaluation.

PURPOSE:
  Answers two questions with no side effects:
  1. Is this balance eligible for the store's reward? (Evaluate)
  2. What discount does the reward apply to an order? (DiscountAmount)

DESIGN PRINCIPLES:
  1. Purity: No persistence, no clocks. Callers re-evaluate at use time
     because balances change between evaluations; nothing here is cached.
  2. Precision: Monetary amounts use decimal.Decimal, never float64.
  3. Totality: DiscountAmount is defined for every reward kind; free
     product returns zero and the reward name is the symbolic marker the
     order system renders.

EXAMPLE:
  policy := reward.Policy{Threshold: 4, Kind: reward.KindFixed,
      Magnitude: decimal.NewFromInt(10), Name: "$10 off repair"}

  e := reward.Evaluate(3, policy)   // {Eligible:false, Shortfall:1}
  d := reward.DiscountAmount(policy, decimal.NewFromInt(50)) // 10

SEE ALSO:
  - loyalty/redemption.go: Re-evaluates live balance at approval time
*/
package reward

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY - Per-store reward configuration
// =============================================================================

type Kind string

const (
	KindFixed       Kind = "fixed"        // Fixed monetary discount
	KindPercentage  Kind = "percentage"   // Percentage off the order subtotal
	KindFreeProduct Kind = "free_product" // Non-monetary reward
)

// Policy is the per-store reward configuration.
// Threshold is the point cost of the reward; Magnitude is a money amount
// for KindFixed and a percentage for KindPercentage (unused for free
// product).
type Policy struct {
	StoreID   string
	Threshold int64
	Kind      Kind
	Magnitude decimal.Decimal
	Name      string
}

// Valid reports whether the policy is well-formed.
// A negative magnitude would turn the discount into a surcharge.
func (p Policy) Valid() bool {
	if p.Threshold < 0 || p.Magnitude.IsNegative() {
		return false
	}
	switch p.Kind {
	case KindFixed, KindPercentage, KindFreeProduct:
		return true
	}
	return false
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// Eligibility reports whether a balance meets the threshold and, when it
// does not, how many points are still needed ("N more points" messaging).
type Eligibility struct {
	Eligible  bool  `json:"eligible"`
	Shortfall int64 `json:"shortfall"`
}

// Evaluate compares a derived balance against the policy threshold.
func Evaluate(balance int64, policy Policy) Eligibility {
	if balance >= policy.Threshold {
		return Eligibility{Eligible: true}
	}
	return Eligibility{Eligible: false, Shortfall: policy.Threshold - balance}
}

// =============================================================================
// DISCOUNT COMPUTATION
// =============================================================================

var hundred = decimal.NewFromInt(100)

// DiscountAmount computes the monetary discount the reward applies to an
// order subtotal.
//
//	fixed:        min(magnitude, subtotal) - never discounts below zero
//	percentage:   round(subtotal * magnitude / 100, 2)
//	free_product: zero - the reward is the named product, not money
func DiscountAmount(policy Policy, subtotal decimal.Decimal) decimal.Decimal {
	switch policy.Kind {
	case KindFixed:
		if policy.Magnitude.GreaterThan(subtotal) {
			return subtotal
		}
		return policy.Magnitude
	case KindPercentage:
		return subtotal.Mul(policy.Magnitude).Div(hundred).Round(2)
	default:
		return decimal.Zero
	}
}

// FreeProduct reports whether the reward is fulfilled as a product
// rather than an amount off the total.
func (p Policy) FreeProduct() bool {
	return p.Kind == KindFreeProduct
}
