/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - loyalty/award.go: The domain results these DTOs mirror
*/
package api

import (
	"time"

	"github.com/fixpoint/loyalty-engine/account"
	"github.com/fixpoint/loyalty-engine/ledger"
	"github.com/fixpoint/loyalty-engine/loyalty"
	"github.com/fixpoint/loyalty-engine/reward"
)

// =============================================================================
// AWARDS
// =============================================================================

// AwardPointsRequest is the request to credit points to an email.
type AwardPointsRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	StoreID   string `json:"store_id"`
	Points    int64  `json:"points"`
	Category  string `json:"category,omitempty"`
	Reference string `json:"reference"`
}

// AwardResultDTO mirrors the award contract. Awarded is what this call
// credited (0 on a duplicate), Total the derived balance afterwards.
type AwardResultDTO struct {
	Awarded   int64       `json:"awarded"`
	Total     int64       `json:"total"`
	Duplicate bool        `json:"duplicate"`
	Account   *AccountDTO `json:"account,omitempty"`
}

// AccountDTO represents a loyalty account in API responses.
// The access token is only included on the creating response.
type AccountDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Token     string `json:"token,omitempty"`
	IsNew     bool   `json:"is_new,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// EntryDTO represents one ledger entry in the points history.
type EntryDTO struct {
	ID        string `json:"id"`
	StoreID   string `json:"store_id"`
	Points    int64  `json:"points"`
	Category  string `json:"category"`
	Reference string `json:"reference,omitempty"`
	CreatedAt string `json:"created_at"`
}

// BalanceDTO is the derived balance plus eligibility for one store.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	StoreID   string `json:"store_id"`
	Balance   int64  `json:"balance"`
	Eligible  bool   `json:"eligible"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO represents a store's reward policy. Magnitude is a decimal
// string: a money amount for fixed, a percentage for percentage.
type PolicyDTO struct {
	StoreID   string `json:"store_id"`
	Threshold int64  `json:"threshold"`
	Kind      string `json:"kind"`
	Magnitude string `json:"magnitude"`
	Name      string `json:"name"`
}

// DiscountDTO is the computed discount for one order subtotal.
// Amount is zero for free-product rewards; RewardName carries what to add
// to the order instead.
type DiscountDTO struct {
	Amount      string `json:"amount"`
	FreeProduct bool   `json:"free_product"`
	RewardName  string `json:"reward_name"`
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// MaterializeRequest asks for a redemption request on an order.
type MaterializeRequest struct {
	AccountID string `json:"account_id"`
	StoreID   string `json:"store_id"`
}

// ResolveRequest carries the operator action on a redemption request.
// Reason is required for rejections only.
type ResolveRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// RedemptionDTO represents a redemption request in API responses.
type RedemptionDTO struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	AccountID       string `json:"account_id"`
	StoreID         string `json:"store_id"`
	PointsSnapshot  int64  `json:"points_snapshot"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	ResolvedBy      string `json:"resolved_by,omitempty"`
	CreatedAt       string `json:"created_at"`
	ApprovedAt      string `json:"approved_at,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func toAccountDTO(a account.Account, isNew, withToken bool) *AccountDTO {
	dto := &AccountDTO{
		ID:        string(a.ID),
		Email:     a.Email,
		Name:      a.Name,
		IsNew:     isNew,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
	if withToken {
		dto.Token = a.Token
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		StoreID:   string(e.StoreID),
		Points:    e.Points,
		Category:  string(e.Category),
		Reference: e.Reference,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func toPolicyDTO(p reward.Policy) PolicyDTO {
	return PolicyDTO{
		StoreID:   p.StoreID,
		Threshold: p.Threshold,
		Kind:      string(p.Kind),
		Magnitude: p.Magnitude.String(),
		Name:      p.Name,
	}
}

func toRedemptionDTO(r loyalty.RedemptionRequest) RedemptionDTO {
	dto := RedemptionDTO{
		ID:              string(r.ID),
		OrderID:         r.OrderID,
		AccountID:       string(r.AccountID),
		StoreID:         string(r.StoreID),
		PointsSnapshot:  r.PointsSnapshot,
		Status:          string(r.Status),
		RejectionReason: r.RejectionReason,
		ResolvedBy:      r.ResolvedBy,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
	if r.ApprovedAt != nil {
		dto.ApprovedAt = r.ApprovedAt.Format(time.RFC3339)
	}
	return dto
}
