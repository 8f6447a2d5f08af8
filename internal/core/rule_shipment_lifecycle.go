package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"pharmanet/pkg/domain"
)

const shipmentLifecycleRuleName = "shipment_lifecycle"

// ShipmentLifecycleRule blocks unknown shipment states, exits from the
// delivered state, and edits to a shipment's assets or transporter. A
// delivered shipment may only be replaced by a new one for the next order.
func ShipmentLifecycleRule() domain.Rule {
	return shipmentLifecycleRule{}
}

type shipmentLifecycleRule struct{}

// shipmentState is decoded loosely so unknown states are reported instead of
// failing to decode.
type shipmentState struct {
	Key         domain.Key   `json:"shipmentID"`
	Status      string       `json:"status"`
	Assets      []domain.Key `json:"assets"`
	Transporter domain.Key   `json:"transporter"`
}

var shipmentMachine = struct {
	valid    map[string]struct{}
	terminal map[string]struct{}
	forward  map[string]string
}{
	valid:    toSet(domain.StatusInTransit.String(), domain.StatusDelivered.String()),
	terminal: toSet(domain.StatusDelivered.String()),
	forward:  map[string]string{domain.StatusInTransit.String(): domain.StatusDelivered.String()},
}

func decodeShipmentState(payload domain.ChangePayload) (shipmentState, bool) {
	var out shipmentState
	if payload.IsEmpty() {
		return out, false
	}
	if err := json.Unmarshal(payload.Raw(), &out); err != nil {
		return out, false
	}
	return out, true
}

// orderLink is the part of a purchase order that ties it to a shipment.
type orderLink struct {
	Shipment domain.Key `json:"shipment"`
}

func decodeOrderLink(payload domain.ChangePayload) (orderLink, bool) {
	var out orderLink
	if payload.IsEmpty() {
		return out, false
	}
	if err := json.Unmarshal(payload.Raw(), &out); err != nil {
		return out, false
	}
	return out, true
}

// startsShipment reports whether change writes a new shipment. That is either
// a create, or a delivered shipment replaced by an in-transit one in the same
// write set that links the unshipped order at the shipment's key to it.
func startsShipment(change domain.Change, changes []domain.Change) bool {
	if change.Action == domain.ActionCreate {
		return true
	}
	before, ok := decodeShipmentState(change.Before)
	if !ok || before.Status != domain.StatusDelivered.String() {
		return false
	}
	after, ok := decodeShipmentState(change.After)
	if !ok || after.Status != domain.StatusInTransit.String() {
		return false
	}
	attrs := change.Key.Attributes()
	if len(attrs) != 2 {
		return false
	}
	orderKey, err := domain.PurchaseOrderKey(attrs[0], attrs[1])
	if err != nil {
		return false
	}
	for _, c := range changes {
		if c.Entity != domain.EntityPurchaseOrder || c.Key != orderKey {
			continue
		}
		prev, okBefore := decodeOrderLink(c.Before)
		next, okAfter := decodeOrderLink(c.After)
		if okBefore && okAfter && prev.Shipment == "" && next.Shipment == change.Key {
			return true
		}
	}
	return false
}

func (shipmentLifecycleRule) Name() string { return shipmentLifecycleRuleName }

func (shipmentLifecycleRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(key domain.Key, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     shipmentLifecycleRuleName,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityShipment,
			Key:      key,
		})
	}
	for _, change := range changes {
		if change.Entity != domain.EntityShipment {
			continue
		}
		after, ok := decodeShipmentState(change.After)
		if !ok {
			continue
		}
		if _, valid := shipmentMachine.valid[after.Status]; !valid {
			block(change.Key, "shipment is set to invalid state %q", after.Status)
			continue
		}
		before, ok := decodeShipmentState(change.Before)
		if !ok {
			if after.Status != domain.StatusInTransit.String() {
				block(change.Key, "shipment must be created in-transit, not %s", after.Status)
			}
			continue
		}
		if startsShipment(change, changes) {
			continue
		}
		if _, terminal := shipmentMachine.terminal[before.Status]; terminal && after.Status != before.Status {
			block(change.Key, "cannot move shipment from terminal state %s to %s", before.Status, after.Status)
			continue
		}
		if after.Status != before.Status && shipmentMachine.forward[before.Status] != after.Status {
			block(change.Key, "shipment cannot move from %s to %s", before.Status, after.Status)
		}
		if !slices.Equal(before.Assets, after.Assets) {
			block(change.Key, "shipment assets are immutable")
		}
		if before.Transporter != after.Transporter {
			block(change.Key, "shipment transporter is immutable")
		}
	}
	return res, nil
}
