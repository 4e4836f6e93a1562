package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"procurement.io/orchestrator/internal/approval"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/purchasing"
)

const dateLayout = "2006-01-02"

func invalidBody(err error) error {
	return apperrors.InvalidRequestField("body", "invalid request body: "+err.Error())
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns UTC.
func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, apperrors.InvalidRequestField(field, field+" is required")
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperrors.InvalidRequestField(field, field+" must be YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

func parseOptionalDate(field string, v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseDate(field, *v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- Requests ----

type requestDetailsBody struct {
	ProjectID    *string         `json:"project_id"`
	CategoryID   string          `json:"category_id"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	RequiredDate string          `json:"required_date"`
}

func (b requestDetailsBody) toDetails() (purchasing.RequestDetails, error) {
	required, err := parseDate("required_date", b.RequiredDate)
	if err != nil {
		return purchasing.RequestDetails{}, err
	}
	return purchasing.RequestDetails{
		ProjectID:    b.ProjectID,
		CategoryID:   b.CategoryID,
		Description:  b.Description,
		Quantity:     b.Quantity,
		Unit:         b.Unit,
		RequiredDate: required,
	}, nil
}

type sendRfqBody struct {
	VendorIDs []string `json:"vendor_ids"`
}

type quoteBody struct {
	Price        decimal.Decimal `json:"price"`
	LeadTimeDays *int            `json:"lead_time_days"`
	Notes        string          `json:"notes"`
	RepliedAt    *string         `json:"replied_at"`
}

type createOrderBody struct {
	RfqItemID            string `json:"rfq_item_id"`
	OrderDate            string `json:"order_date"`
	ExpectedDeliveryDate string `json:"expected_delivery_date"`
	Currency             string `json:"currency"`
	Notes                string `json:"notes"`
}

type updateOrderBody struct {
	OrderDate            *string `json:"order_date"`
	ExpectedDeliveryDate *string `json:"expected_delivery_date"`
	Notes                *string `json:"notes"`
}

type submitApprovalBody struct {
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Description string `json:"description"`
}

type decisionBody struct {
	Level    int    `json:"level"`
	Outcome  string `json:"outcome"`
	Comments string `json:"comments"`
}

// ---- Responses ----

// RfqItemResponse is the wire form of one RFQ line.
type RfqItemResponse struct {
	ID                 string           `json:"id"`
	VendorID           string           `json:"vendor_id"`
	OfferingID         *string          `json:"offering_id,omitempty"`
	Status             string           `json:"status"`
	QuotedPrice        *decimal.Decimal `json:"quoted_price,omitempty"`
	QuotedLeadTimeDays *int             `json:"quoted_lead_time_days,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	SentAt             time.Time        `json:"sent_at"`
	RepliedAt          *time.Time       `json:"replied_at,omitempty"`
}

// PurchaseRequestResponse is the wire form of a purchase request.
type PurchaseRequestResponse struct {
	ID             string            `json:"id"`
	RequestNumber  string            `json:"request_number"`
	ProjectID      *string           `json:"project_id,omitempty"`
	CategoryID     string            `json:"category_id"`
	Description    string            `json:"description"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Unit           string            `json:"unit"`
	RequiredDate   string            `json:"required_date"`
	Status         string            `json:"status"`
	AllowedActions []string          `json:"allowed_actions"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Version        int64             `json:"version"`
	Items          []RfqItemResponse `json:"items"`
}

func toPurchaseRequestResponse(pr *purchasing.PurchaseRequest) PurchaseRequestResponse {
	out := PurchaseRequestResponse{
		ID:             pr.ID,
		RequestNumber:  pr.RequestNumber,
		ProjectID:      pr.ProjectID,
		CategoryID:     pr.CategoryID,
		Description:    pr.Description,
		Quantity:       pr.Quantity,
		Unit:           pr.Unit,
		RequiredDate:   pr.RequiredDate.Format(dateLayout),
		Status:         string(pr.Status),
		AllowedActions: pr.AllowedActions(),
		CreatedBy:      pr.CreatedBy,
		CreatedAt:      pr.CreatedAt,
		UpdatedAt:      pr.UpdatedAt,
		Version:        pr.Version,
		Items:          make([]RfqItemResponse, 0, len(pr.Items)),
	}
	for _, it := range pr.Items {
		out.Items = append(out.Items, RfqItemResponse{
			ID:                 it.ID,
			VendorID:           it.VendorID,
			OfferingID:         it.OfferingID,
			Status:             string(it.Status),
			QuotedPrice:        it.QuotedPrice,
			QuotedLeadTimeDays: it.QuotedLeadTimeDays,
			Notes:              it.Notes,
			SentAt:             it.SentAt,
			RepliedAt:          it.RepliedAt,
		})
	}
	return out
}

// PurchaseOrderResponse is the wire form of a purchase order.
type PurchaseOrderResponse struct {
	ID                   string          `json:"id"`
	OrderNumber          string          `json:"order_number"`
	RfqItemID            string          `json:"rfq_item_id"`
	ProjectID            *string         `json:"project_id,omitempty"`
	VendorID             string          `json:"vendor_id"`
	OrderDate            string          `json:"order_date"`
	ExpectedDeliveryDate string          `json:"expected_delivery_date"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Currency             string          `json:"currency"`
	Status               string          `json:"status"`
	Notes                string          `json:"notes,omitempty"`
	CreatedBy            string          `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Version              int64           `json:"version"`
}

func toPurchaseOrderResponse(po *purchasing.PurchaseOrder) PurchaseOrderResponse {
	return PurchaseOrderResponse{
		ID:                   po.ID,
		OrderNumber:          po.OrderNumber,
		RfqItemID:            po.RfqItemID,
		ProjectID:            po.ProjectID,
		VendorID:             po.VendorID,
		OrderDate:            po.OrderDate.Format(dateLayout),
		ExpectedDeliveryDate: po.ExpectedDeliveryDate.Format(dateLayout),
		TotalAmount:          po.TotalAmount,
		Currency:             po.Currency,
		Status:               string(po.Status),
		Notes:                po.Notes,
		CreatedBy:            po.CreatedBy,
		CreatedAt:            po.CreatedAt,
		UpdatedAt:            po.UpdatedAt,
		Version:              po.Version,
	}
}

// ApprovalLevelResponse is one level of an approval chain.
type ApprovalLevelResponse struct {
	Level              int        `json:"level"`
	Name               string     `json:"name"`
	ExpectedApproverID string     `json:"expected_approver_id"`
	Overrides          []string   `json:"overrides,omitempty"`
	ActualApproverID   string     `json:"actual_approver_id,omitempty"`
	Status             string     `json:"status"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	Comments           string     `json:"comments,omitempty"`
}

// ApprovalResponse is the wire form of an approval request.
type ApprovalResponse struct {
	ID           string                  `json:"id"`
	EntityType   string                  `json:"entity_type"`
	EntityID     string                  `json:"entity_id"`
	Description  string                  `json:"description,omitempty"`
	CurrentLevel int                     `json:"current_level"`
	TotalLevels  int                     `json:"total_levels"`
	Status       string                  `json:"status"`
	SubmitterID  string                  `json:"submitter_id"`
	SubmittedAt  time.Time               `json:"submitted_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	Version      int64                   `json:"version"`
	Levels       []ApprovalLevelResponse `json:"levels"`
}

func toApprovalResponse(r *approval.Request) ApprovalResponse {
	out := ApprovalResponse{
		ID:           r.ID,
		EntityType:   r.EntityType,
		EntityID:     r.EntityID,
		Description:  r.Description,
		CurrentLevel: r.CurrentLevel,
		TotalLevels:  r.TotalLevels,
		Status:       string(r.Status),
		SubmitterID:  r.SubmitterID,
		SubmittedAt:  r.SubmittedAt,
		CompletedAt:  r.CompletedAt,
		Version:      r.Version,
		Levels:       make([]ApprovalLevelResponse, 0, len(r.Levels)),
	}
	for _, l := range r.Levels {
		out.Levels = append(out.Levels, ApprovalLevelResponse{
			Level:              l.Order,
			Name:               l.Name,
			ExpectedApproverID: l.ExpectedApproverID,
			Overrides:          l.Overrides,
			ActualApproverID:   l.ActualApproverID,
			Status:             string(l.Status),
			DecidedAt:          l.DecidedAt,
			Comments:           l.Comments,
		})
	}
	return out
}
