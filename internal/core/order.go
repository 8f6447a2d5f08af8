package core

import (
	"context"
	"fmt"

	"pharmanet/pkg/domain"
)

// CreatePO records a buyer's intent to purchase quantity units of drugName
// from the seller. Only adjacent hierarchy levels trade, and the caller must
// belong to the buyer's organisation. An order replaces the previous one at
// (buyerCRN, drugName) only once that order's shipment has been delivered.
func (c *Custody) CreatePO(ctx context.Context, tctx domain.TxContext, buyerCRN, sellerCRN, drugName string, quantity int) (domain.PurchaseOrder, error) {
	var order domain.PurchaseOrder
	err := c.run(ctx, tctx, OpCreatePO, func(s *session) error {
		org, err := s.authorize(domain.OrgDistributor, domain.OrgRetailer)
		if err != nil {
			return err
		}
		if quantity < 1 {
			return &domain.Error{Kind: domain.KindInvalidArgument, Entity: domain.EntityPurchaseOrder, Detail: fmt.Sprintf("quantity %d must be at least 1", quantity)}
		}
		key, err := domain.PurchaseOrderKey(buyerCRN, drugName)
		if err != nil {
			return err
		}
		buyer, err := s.resolveCompany(buyerCRN, domain.KindUnknownCompany)
		if err != nil {
			return err
		}
		seller, err := s.resolveCompany(sellerCRN, domain.KindUnknownCompany)
		if err != nil {
			return err
		}
		if !buyer.Role.CanBuyFrom(seller.Role) {
			return domain.TradeDirectionError{Buyer: buyer.Role.String(), Seller: seller.Role}
		}
		if domain.OrganizationFor(buyer.Role) != org {
			return &domain.Error{Kind: domain.KindUnauthorized, Entity: domain.EntityCompany, Key: buyer.Key, Detail: fmt.Sprintf("organisation %s cannot order on behalf of a %s", org, buyer.Role)}
		}
		if previous, exists, err := load[domain.PurchaseOrder](s, domain.EntityPurchaseOrder, key); err != nil {
			return err
		} else if exists {
			if err := s.ensureFulfilled(previous); err != nil {
				return err
			}
		}
		order = domain.PurchaseOrder{
			Key:      key,
			DrugName: drugName,
			Quantity: quantity,
			Buyer:    buyer.Key,
			Seller:   seller.Key,
		}
		return s.put(domain.EntityPurchaseOrder, key, order)
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return order, nil
}

// ensureFulfilled fails with Duplicate while order is unshipped or its
// shipment is still in transit.
func (s *session) ensureFulfilled(order domain.PurchaseOrder) error {
	if !order.Shipped() {
		return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityPurchaseOrder, Key: order.Key, Detail: "order has not been shipped"}
	}
	shipment, ok, err := load[domain.Shipment](s, domain.EntityShipment, order.Shipment)
	if err != nil {
		return err
	}
	if ok && !shipment.Status.Terminal() {
		return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityPurchaseOrder, Key: order.Key, Detail: "shipment " + order.Shipment.String() + " is still in transit"}
	}
	return nil
}
