package core

import (
	"context"
	"fmt"
	"strings"

	"pharmanet/pkg/domain"
)

// SplitAssets parses the comma separated serial list accepted by the
// chaincode surface. Whitespace around serials is trimmed; an empty list
// yields no serials.
func SplitAssets(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// CreateShipment ships the serials listed against the order at (buyerCRN,
// drugName). Every drug moves into the transporter's custody, or none does.
// A delivered shipment from an earlier order at the same key is replaced and
// the order is linked to the new one.
func (c *Custody) CreateShipment(ctx context.Context, tctx domain.TxContext, buyerCRN, drugName string, serials []string, transporterCRN string) (domain.Shipment, error) {
	var shipment domain.Shipment
	err := c.run(ctx, tctx, OpCreateShipment, func(s *session) error {
		org, err := s.authorize(domain.OrgManufacturer, domain.OrgDistributor)
		if err != nil {
			return err
		}
		orderKey, err := domain.PurchaseOrderKey(buyerCRN, drugName)
		if err != nil {
			return err
		}
		order, ok, err := load[domain.PurchaseOrder](s, domain.EntityPurchaseOrder, orderKey)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.Error{Kind: domain.KindNoSuchOrder, Entity: domain.EntityPurchaseOrder, Key: orderKey}
		}
		seller, err := s.companyByKey(order.Seller)
		if err != nil {
			return err
		}
		if domain.OrganizationFor(seller.Role) != org {
			return &domain.Error{Kind: domain.KindUnauthorized, Entity: domain.EntityPurchaseOrder, Key: orderKey, Detail: fmt.Sprintf("organisation %s cannot ship for a %s", org, seller.Role)}
		}
		key, err := domain.ShipmentKey(buyerCRN, drugName)
		if err != nil {
			return err
		}
		if order.Shipped() {
			return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityShipment, Key: key, Detail: "order already shipped"}
		}
		if previous, exists, err := load[domain.Shipment](s, domain.EntityShipment, key); err != nil {
			return err
		} else if exists && !previous.Status.Terminal() {
			return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityShipment, Key: key, Detail: "shipment still in transit"}
		}
		if len(serials) != order.Quantity {
			return domain.QuantityMismatchError{Order: orderKey, Expected: order.Quantity, Actual: len(serials)}
		}

		seen := make(map[string]struct{}, len(serials))
		drugs := make([]domain.Drug, 0, len(serials))
		for _, serial := range serials {
			if _, dup := seen[serial]; dup {
				return &domain.Error{Kind: domain.KindInvalidArgument, Entity: domain.EntityShipment, Key: key, Detail: "serial " + serial + " listed twice"}
			}
			seen[serial] = struct{}{}
			drugKey, err := domain.DrugKey(drugName, serial)
			if err != nil {
				return err
			}
			drug, ok, err := load[domain.Drug](s, domain.EntityDrug, drugKey)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.Error{Kind: domain.KindUnregisteredDrug, Entity: domain.EntityDrug, Key: drugKey, Detail: "serial " + serial}
			}
			if drug.Owner != domain.OwnerCompany(order.Seller) {
				return &domain.Error{Kind: domain.KindNotOwner, Entity: domain.EntityDrug, Key: drugKey, Detail: "not held by the seller"}
			}
			drugs = append(drugs, drug)
		}

		transporter, err := s.resolveCompany(transporterCRN, domain.KindUnknownTransporter)
		if err != nil {
			return err
		}
		if transporter.Role != domain.RoleTransporter {
			return &domain.Error{Kind: domain.KindInvalidTransporterRole, Entity: domain.EntityCompany, Key: transporter.Key, Detail: fmt.Sprintf("company is a %s", transporter.Role)}
		}
		creator, err := s.tctx.Caller().GetID()
		if err != nil {
			return &domain.Error{Kind: domain.KindUnauthorized, Detail: "caller identity unavailable: " + err.Error()}
		}

		shipment = domain.Shipment{
			Key:         key,
			Creator:     creator,
			Assets:      make([]domain.Key, len(drugs)),
			Transporter: transporter.Key,
			Status:      domain.StatusInTransit,
		}
		for i, drug := range drugs {
			shipment.Assets[i] = drug.Key
			drug.Owner = domain.OwnerCompany(transporter.Key)
			if err := s.put(domain.EntityDrug, drug.Key, drug); err != nil {
				return err
			}
		}
		if err := s.put(domain.EntityShipment, key, shipment); err != nil {
			return err
		}
		order.Shipment = key
		return s.put(domain.EntityPurchaseOrder, orderKey, order)
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	return shipment, nil
}

// UpdateShipment records delivery of the shipment at (buyerCRN, drugName) and
// hands every asset to the buyer. A delivered shipment cannot be delivered again.
func (c *Custody) UpdateShipment(ctx context.Context, tctx domain.TxContext, buyerCRN, drugName, transporterCRN string) (domain.Shipment, error) {
	var shipment domain.Shipment
	err := c.run(ctx, tctx, OpUpdateShipment, func(s *session) error {
		if _, err := s.authorize(domain.OrgTransporter); err != nil {
			return err
		}
		transporter, err := s.resolveCompany(transporterCRN, domain.KindUnknownTransporter)
		if err != nil {
			return err
		}
		if transporter.Role != domain.RoleTransporter {
			return &domain.Error{Kind: domain.KindInvalidTransporterRole, Entity: domain.EntityCompany, Key: transporter.Key, Detail: fmt.Sprintf("company is a %s", transporter.Role)}
		}
		key, err := domain.ShipmentKey(buyerCRN, drugName)
		if err != nil {
			return err
		}
		current, ok, err := load[domain.Shipment](s, domain.EntityShipment, key)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.Error{Kind: domain.KindNoSuchShipment, Entity: domain.EntityShipment, Key: key}
		}
		if current.Transporter != transporter.Key {
			return &domain.Error{Kind: domain.KindUnauthorized, Entity: domain.EntityShipment, Key: key, Detail: "shipment is assigned to another transporter"}
		}
		if current.Status.Terminal() {
			return &domain.Error{Kind: domain.KindAlreadyDelivered, Entity: domain.EntityShipment, Key: key}
		}
		orderKey, err := domain.PurchaseOrderKey(buyerCRN, drugName)
		if err != nil {
			return err
		}
		order, ok, err := load[domain.PurchaseOrder](s, domain.EntityPurchaseOrder, orderKey)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.Error{Kind: domain.KindNoSuchOrder, Entity: domain.EntityPurchaseOrder, Key: orderKey}
		}

		for _, asset := range current.Assets {
			drug, ok, err := load[domain.Drug](s, domain.EntityDrug, asset)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.Error{Kind: domain.KindUnregisteredDrug, Entity: domain.EntityDrug, Key: asset}
			}
			if drug.Owner != domain.OwnerCompany(transporter.Key) {
				return &domain.Error{Kind: domain.KindNotOwner, Entity: domain.EntityDrug, Key: asset, Detail: "not held by the transporter"}
			}
			drug.Owner = domain.OwnerCompany(order.Buyer)
			drug.Shipment = key
			if err := s.put(domain.EntityDrug, asset, drug); err != nil {
				return err
			}
		}
		current.Status = domain.StatusDelivered
		shipment = current
		return s.put(domain.EntityShipment, key, shipment)
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	return shipment, nil
}
