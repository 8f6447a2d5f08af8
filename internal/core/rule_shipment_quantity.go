package core

import (
	"context"
	"fmt"

	"pharmanet/pkg/domain"
)

const shipmentQuantityRuleName = "shipment_quantity"

// ShipmentQuantityRule blocks a new shipment whose asset count differs from
// the quantity of the purchase order it fulfils.
func ShipmentQuantityRule() domain.Rule {
	return shipmentQuantityRule{}
}

type shipmentQuantityRule struct{}

func (shipmentQuantityRule) Name() string { return shipmentQuantityRuleName }

func (shipmentQuantityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityShipment || !startsShipment(change, changes) {
			continue
		}
		shipment, ok := decodeShipmentState(change.After)
		if !ok {
			continue
		}
		attrs := change.Key.Attributes()
		if len(attrs) != 2 {
			continue
		}
		orderKey, err := domain.PurchaseOrderKey(attrs[0], attrs[1])
		if err != nil {
			return domain.Result{}, err
		}
		order, ok := view.FindPurchaseOrder(orderKey)
		if !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     shipmentQuantityRuleName,
				Severity: domain.SeverityBlock,
				Message:  "shipment has no purchase order",
				Entity:   domain.EntityShipment,
				Key:      change.Key,
			})
			continue
		}
		if len(shipment.Assets) != order.Quantity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     shipmentQuantityRuleName,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("order %s expects %d assets, shipment carries %d", orderKey, order.Quantity, len(shipment.Assets)),
				Entity:   domain.EntityShipment,
				Key:      change.Key,
			})
		}
	}
	return res, nil
}
