package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

// SyncBatch applies offline operations of one kind. Items are independent:
// each runs as its own unit in submitted order, a failure is reported against
// its id, and a replay of an applied id counts as synced.
func (s *Service) SyncBatch(ctx context.Context, shopID string, kind domain.SyncKind, items []json.RawMessage, principal domain.Principal) domain.SyncBatchResponse {
	resp := domain.SyncBatchResponse{Errors: make([]domain.SyncItemError, 0)}
	logger := s.log.WithFields(logrus.Fields{"shop_id": shopID, "kind": kind, "principal": principal.ID})

	for _, raw := range items {
		id, err := s.applySyncItem(ctx, shopID, kind, raw, principal)
		if err != nil {
			logger.WithField("client_id", id).WithError(err).Warn("sync item rejected")
			resp.Errors = append(resp.Errors, domain.SyncItemError{ID: id, Error: err.Error(), Code: store.Code(err)})
			continue
		}
		resp.Synced++
	}

	logger.WithFields(logrus.Fields{"synced": resp.Synced, "failed": len(resp.Errors)}).Info("sync batch applied")
	return resp
}

func (s *Service) applySyncItem(ctx context.Context, shopID string, kind domain.SyncKind, raw json.RawMessage, principal domain.Principal) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", store.Invalid("malformed item: %v", err)
	}
	id := strings.TrimSpace(head.ID)
	if id == "" {
		return "", store.Invalid("item id is required")
	}

	switch kind {
	case domain.SyncSale:
		var req domain.SaleRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return id, store.Invalid("malformed sale: %v", err)
		}
		_, err := s.RecordSale(ctx, shopID, req, principal)
		return id, err
	case domain.SyncPurchase:
		var req domain.PurchaseRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return id, store.Invalid("malformed purchase: %v", err)
		}
		_, err := s.RecordPurchase(ctx, shopID, req, principal)
		return id, err
	case domain.SyncCustomer:
		var req domain.CustomerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return id, store.Invalid("malformed customer: %v", err)
		}
		_, err := s.CreateCustomer(ctx, shopID, req, principal)
		return id, err
	case domain.SyncCreditPayment:
		var req domain.CreditPaymentRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return id, store.Invalid("malformed credit payment: %v", err)
		}
		_, err := s.RecordCreditPayment(ctx, shopID, req, principal)
		return id, err
	case domain.SyncStockAdjustment:
		var req domain.StockAdjustmentRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return id, store.Invalid("malformed stock adjustment: %v", err)
		}
		_, err := s.RecordStockAdjustment(ctx, shopID, req, principal)
		return id, err
	default:
		return id, store.Invalid("unsupported sync kind %q", kind)
	}
}
