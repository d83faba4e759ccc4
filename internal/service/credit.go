package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/permission"
	"github.com/OasisMate/cartpos-sub000/internal/store"
	"github.com/OasisMate/cartpos-sub000/internal/xid"
)

func (s *Service) CreateCustomer(ctx context.Context, shopID string, req domain.CustomerRequest, principal domain.Principal) (domain.CustomerResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.SellRoles...); err != nil {
		return domain.CustomerResult{}, err
	}
	req.ID = normalizeID(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.CustomerResult{}, store.Invalid("customer name is required")
	}
	if req.ID == "" {
		req.ID = xid.New("cus")
	}

	var result domain.CustomerResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetCustomer(ctx, shopID, req.ID)
		if err == nil {
			result = domain.CustomerResult{Customer: *existing, Duplicate: true}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := lookupShop(ctx, tx, shopID); err != nil {
			return err
		}

		customer := domain.Customer{
			ID:        req.ID,
			ShopID:    shopID,
			Name:      req.Name,
			Phone:     req.Phone,
			CreatedAt: xid.Stamp(),
		}
		if err := tx.InsertCustomer(ctx, customer); err != nil {
			return err
		}
		result = domain.CustomerResult{Customer: customer}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		existing, lookupErr := s.repo.GetCustomer(ctx, shopID, req.ID)
		if lookupErr != nil {
			return domain.CustomerResult{}, store.Conflict("customer id %s is already in use", req.ID)
		}
		return domain.CustomerResult{Customer: *existing, Duplicate: true}, nil
	}
	if err != nil {
		return domain.CustomerResult{}, err
	}
	if !result.Duplicate {
		s.logAudit(ctx, shopID, principal, "customer_create", "customer", result.Customer.ID, "name="+result.Customer.Name)
	}
	return result, nil
}

// RecordCreditPayment posts a CREDIT against the customer's outstanding udhaar.
func (s *Service) RecordCreditPayment(ctx context.Context, shopID string, req domain.CreditPaymentRequest, principal domain.Principal) (domain.CreditEntryResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.SellRoles...); err != nil {
		return domain.CreditEntryResult{}, err
	}
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = "cash"
	}
	if !isSupportedPaymentMethod(req.Method) {
		return domain.CreditEntryResult{}, store.Invalid("unsupported payment method %q", req.Method)
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "payment via " + req.Method
	}
	return s.postCustomerEntry(ctx, shopID, principal, "credit_payment", domain.CustomerLedgerEntry{
		ID:         normalizeID(req.ID),
		CustomerID: normalizeID(req.CustomerID),
		Type:       domain.CustomerPayment,
		Direction:  domain.Credit,
		Amount:     req.Amount,
		RefType:    domain.RefPayment,
		Note:       note,
	})
}

// RecordCreditAdjustment corrects a customer balance in either direction.
func (s *Service) RecordCreditAdjustment(ctx context.Context, shopID string, req domain.CreditAdjustmentRequest, principal domain.Principal) (domain.CreditEntryResult, error) {
	if err := s.gate.Authorize(ctx, principal, shopID, permission.ManagerOrAbove...); err != nil {
		return domain.CreditEntryResult{}, err
	}
	direction := domain.Direction(strings.ToUpper(strings.TrimSpace(string(req.Direction))))
	if direction != domain.Debit && direction != domain.Credit {
		return domain.CreditEntryResult{}, store.Invalid("direction must be DEBIT or CREDIT")
	}
	return s.postCustomerEntry(ctx, shopID, principal, "credit_adjust", domain.CustomerLedgerEntry{
		ID:         normalizeID(req.ID),
		CustomerID: normalizeID(req.CustomerID),
		Type:       domain.CustomerAdjustment,
		Direction:  direction,
		Amount:     req.Amount,
		RefType:    domain.RefAdjustment,
		Note:       strings.TrimSpace(req.Note),
	})
}

func (s *Service) postCustomerEntry(ctx context.Context, shopID string, principal domain.Principal, action string, entry domain.CustomerLedgerEntry) (domain.CreditEntryResult, error) {
	if entry.CustomerID == "" {
		return domain.CreditEntryResult{}, store.Invalid("customer_id is required")
	}
	if !entry.Amount.IsPositive() {
		return domain.CreditEntryResult{}, store.Invalid("amount must be greater than zero")
	}
	if entry.ID == "" {
		entry.ID = xid.New("cle")
	}
	entry.ShopID = shopID
	entry.CreatedBy = principal.ID
	entry.CreatedAt = xid.Stamp()

	var result domain.CreditEntryResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.CreditEntryResult{}

		posted, err := tx.GetCustomerEntry(ctx, shopID, entry.ID)
		duplicate := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if !duplicate {
			if _, err := tx.GetCustomer(ctx, shopID, entry.CustomerID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return store.NotFound("customer %s not found in shop", entry.CustomerID)
				}
				return err
			}
			if err := tx.InsertCustomerEntry(ctx, entry); err != nil {
				return err
			}
			posted = &entry
		}

		balance, err := creditBalance(ctx, tx, shopID, posted.CustomerID)
		if err != nil {
			return err
		}
		result = domain.CreditEntryResult{Entry: *posted, Balance: balance.Balance, Duplicate: duplicate}
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		posted, lookupErr := s.repo.GetCustomerEntry(ctx, shopID, entry.ID)
		if lookupErr != nil {
			return domain.CreditEntryResult{}, store.Conflict("customer entry id %s is already in use", entry.ID)
		}
		balance, lookupErr := creditBalance(ctx, s.repo, shopID, posted.CustomerID)
		if lookupErr != nil {
			return domain.CreditEntryResult{}, lookupErr
		}
		return domain.CreditEntryResult{Entry: *posted, Balance: balance.Balance, Duplicate: true}, nil
	}
	if err != nil {
		return domain.CreditEntryResult{}, err
	}
	if !result.Duplicate {
		s.logAudit(ctx, shopID, principal, action, "customer", result.Entry.CustomerID,
			fmt.Sprintf("direction=%s,amount=%s,balance=%s", result.Entry.Direction, result.Entry.Amount, result.Balance))
	}
	return result, nil
}
