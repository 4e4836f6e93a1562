package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/repository"
)

// Decimals cross the wire as text so no precision is lost to float64.

const selectRequest = `
SELECT id, request_number, project_id, category_id, description, quantity::text, unit,
       required_date, status, created_by, created_at, updated_at, version
FROM purchase_requests WHERE id = $1`

const selectItems = `
SELECT id, purchase_request_id, vendor_id, offering_id, status, quoted_price::text,
       quoted_lead_time_days, notes, sent_at, replied_at
FROM rfq_items WHERE purchase_request_id = $1 ORDER BY position`

// LoadRequest implements purchasing.Repository.
func (t *tx) LoadRequest(ctx context.Context, id string) (*purchasing.PurchaseRequest, error) {
	var (
		pr       purchasing.PurchaseRequest
		quantity string
		status   string
	)
	err := t.tx.QueryRow(ctx, selectRequest, id).Scan(
		&pr.ID, &pr.RequestNumber, &pr.ProjectID, &pr.CategoryID, &pr.Description, &quantity, &pr.Unit,
		&pr.RequiredDate, &status, &pr.CreatedBy, &pr.CreatedAt, &pr.UpdatedAt, &pr.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("purchase_request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load purchase request %s: %w", id, err)
	}
	if pr.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("purchase request %s quantity: %w", id, err)
	}
	pr.Status = purchasing.RequestStatus(status)
	normalizeRequestTimes(&pr)

	rows, err := t.tx.Query(ctx, selectItems, id)
	if err != nil {
		return nil, fmt.Errorf("load rfq items of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it         purchasing.RfqItem
			itemStatus string
			price      *string
		)
		if err := rows.Scan(&it.ID, &it.PurchaseRequestID, &it.VendorID, &it.OfferingID, &itemStatus, &price,
			&it.QuotedLeadTimeDays, &it.Notes, &it.SentAt, &it.RepliedAt); err != nil {
			return nil, fmt.Errorf("scan rfq item: %w", err)
		}
		it.Status = purchasing.RfqItemStatus(itemStatus)
		if price != nil {
			d, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, fmt.Errorf("rfq item %s quoted price: %w", it.ID, err)
			}
			it.QuotedPrice = &d
		}
		it.SentAt = it.SentAt.UTC()
		if it.RepliedAt != nil {
			r := it.RepliedAt.UTC()
			it.RepliedAt = &r
		}
		pr.Items = append(pr.Items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rfq items of %s: %w", id, err)
	}
	return &pr, nil
}

func normalizeRequestTimes(pr *purchasing.PurchaseRequest) {
	pr.RequiredDate = pr.RequiredDate.UTC()
	pr.CreatedAt = pr.CreatedAt.UTC()
	pr.UpdatedAt = pr.UpdatedAt.UTC()
}

// LoadRequestByItem implements purchasing.Repository.
func (t *tx) LoadRequestByItem(ctx context.Context, rfqItemID string) (*purchasing.PurchaseRequest, error) {
	var requestID string
	err := t.tx.QueryRow(ctx, `SELECT purchase_request_id FROM rfq_items WHERE id = $1`, rfqItemID).Scan(&requestID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("rfq_item", rfqItemID)
	}
	if err != nil {
		return nil, fmt.Errorf("find request of rfq item %s: %w", rfqItemID, err)
	}
	return t.LoadRequest(ctx, requestID)
}

// SaveRequest implements purchasing.Repository. Items are upserted with the
// non-SELECTED ones first, so moving a selection never trips the
// single-selection index mid-statement.
func (t *tx) SaveRequest(ctx context.Context, pr *purchasing.PurchaseRequest) error {
	if pr.Version == 0 {
		_, err := t.tx.Exec(ctx, `
INSERT INTO purchase_requests (id, request_number, project_id, category_id, description, quantity, unit,
    required_date, status, created_by, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, 1)`,
			pr.ID, pr.RequestNumber, pr.ProjectID, pr.CategoryID, pr.Description, pr.Quantity.String(), pr.Unit,
			pr.RequiredDate, string(pr.Status), pr.CreatedBy, pr.CreatedAt, pr.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "purchase_request", pr.ID)
		}
	} else {
		tag, err := t.tx.Exec(ctx, `
UPDATE purchase_requests
SET project_id = $3, category_id = $4, description = $5, quantity = $6::numeric, unit = $7,
    required_date = $8, status = $9, updated_at = $10, version = version + 1
WHERE id = $1 AND version = $2`,
			pr.ID, pr.Version, pr.ProjectID, pr.CategoryID, pr.Description, pr.Quantity.String(), pr.Unit,
			pr.RequiredDate, string(pr.Status), pr.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "purchase_request", pr.ID)
		}
		if err := t.checkUpdated(ctx, tag, "purchase_requests", "purchase_request", pr.ID, pr.Version); err != nil {
			return err
		}
	}

	for _, selected := range []bool{false, true} {
		for pos, it := range pr.Items {
			if (it.Status == purchasing.RfqItemSelected) != selected {
				continue
			}
			if err := t.upsertItem(ctx, pr.ID, pos, it); err != nil {
				return mapError(err, "purchase_request", pr.ID)
			}
		}
	}
	pr.Version++
	return nil
}

func (t *tx) upsertItem(ctx context.Context, requestID string, pos int, it *purchasing.RfqItem) error {
	var price *string
	if it.QuotedPrice != nil {
		s := it.QuotedPrice.String()
		price = &s
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO rfq_items (id, purchase_request_id, position, vendor_id, offering_id, status, quoted_price,
    quoted_lead_time_days, notes, sent_at, replied_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, quoted_price = EXCLUDED.quoted_price,
    quoted_lead_time_days = EXCLUDED.quoted_lead_time_days, notes = EXCLUDED.notes,
    replied_at = EXCLUDED.replied_at`,
		it.ID, requestID, pos, it.VendorID, it.OfferingID, string(it.Status), price,
		it.QuotedLeadTimeDays, it.Notes, it.SentAt, it.RepliedAt,
	)
	return err
}

const selectOrder = `
SELECT id, order_number, rfq_item_id, project_id, vendor_id, order_date, expected_delivery_date,
       total_amount::text, currency, status, notes, created_by, created_at, updated_at, version
FROM purchase_orders`

func scanOrder(row pgx.Row) (*purchasing.PurchaseOrder, error) {
	var (
		po     purchasing.PurchaseOrder
		total  string
		status string
	)
	if err := row.Scan(&po.ID, &po.OrderNumber, &po.RfqItemID, &po.ProjectID, &po.VendorID, &po.OrderDate,
		&po.ExpectedDeliveryDate, &total, &po.Currency, &status, &po.Notes, &po.CreatedBy,
		&po.CreatedAt, &po.UpdatedAt, &po.Version); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("purchase order %s total: %w", po.ID, err)
	}
	po.TotalAmount = d
	po.Status = purchasing.OrderStatus(status)
	for _, ts := range []*time.Time{&po.OrderDate, &po.ExpectedDeliveryDate, &po.CreatedAt, &po.UpdatedAt} {
		*ts = ts.UTC()
	}
	return &po, nil
}

// LoadOrder implements purchasing.Repository.
func (t *tx) LoadOrder(ctx context.Context, id string) (*purchasing.PurchaseOrder, error) {
	po, err := scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("purchase_order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load purchase order %s: %w", id, err)
	}
	return po, nil
}

// FindOpenOrderByItem implements purchasing.Repository.
func (t *tx) FindOpenOrderByItem(ctx context.Context, rfqItemID string) (*purchasing.PurchaseOrder, error) {
	po, err := scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE rfq_item_id = $1 AND status <> 'CANCELED'`, rfqItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open order of rfq item %s: %w", rfqItemID, err)
	}
	return po, nil
}

// SaveOrder implements purchasing.Repository.
func (t *tx) SaveOrder(ctx context.Context, po *purchasing.PurchaseOrder) error {
	if po.Version == 0 {
		_, err := t.tx.Exec(ctx, `
INSERT INTO purchase_orders (id, order_number, rfq_item_id, project_id, vendor_id, order_date,
    expected_delivery_date, total_amount, currency, status, notes, created_by, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, 1)`,
			po.ID, po.OrderNumber, po.RfqItemID, po.ProjectID, po.VendorID, po.OrderDate,
			po.ExpectedDeliveryDate, po.TotalAmount.String(), po.Currency, string(po.Status), po.Notes,
			po.CreatedBy, po.CreatedAt, po.UpdatedAt,
		)
		if err != nil {
			return mapError(err, "purchase_order", po.ID)
		}
		po.Version++
		return nil
	}

	tag, err := t.tx.Exec(ctx, `
UPDATE purchase_orders
SET order_date = $3, expected_delivery_date = $4, total_amount = $5::numeric, currency = $6,
    status = $7, notes = $8, updated_at = $9, version = version + 1
WHERE id = $1 AND version = $2`,
		po.ID, po.Version, po.OrderDate, po.ExpectedDeliveryDate, po.TotalAmount.String(), po.Currency,
		string(po.Status), po.Notes, po.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "purchase_order", po.ID)
	}
	if err := t.checkUpdated(ctx, tag, "purchase_orders", "purchase_order", po.ID, po.Version); err != nil {
		return err
	}
	po.Version++
	return nil
}

// NextNumber implements purchasing.Repository. The counter row is locked
// until the transaction ends, so a rolled-back command does not burn a
// number.
func (t *tx) NextNumber(ctx context.Context, prefix string, at time.Time) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO number_sequences (prefix, year, last_value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_value = number_sequences.last_value + 1
RETURNING last_value`, prefix, at.Year()).Scan(&seq)
	if err != nil {
		return "", mapError(err, "number_sequence", prefix)
	}
	return repository.FormatNumber(prefix, at, seq), nil
}
