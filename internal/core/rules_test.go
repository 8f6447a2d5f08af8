package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/pkg/domain"
)

type stubView struct {
	companies map[domain.Key]domain.Company
	orders    map[domain.Key]domain.PurchaseOrder
}

func (v stubView) FindCompany(key domain.Key) (domain.Company, bool) {
	c, ok := v.companies[key]
	return c, ok
}

func (v stubView) FindDrug(domain.Key) (domain.Drug, bool) { return domain.Drug{}, false }

func (v stubView) FindPurchaseOrder(key domain.Key) (domain.PurchaseOrder, bool) {
	po, ok := v.orders[key]
	return po, ok
}

func (v stubView) FindShipment(domain.Key) (domain.Shipment, bool) { return domain.Shipment{}, false }

func newStubView(t *testing.T) stubView {
	t.Helper()
	view := stubView{companies: map[domain.Key]domain.Company{}, orders: map[domain.Key]domain.PurchaseOrder{}}
	for _, c := range []struct {
		key  domain.Key
		role domain.Role
	}{
		{acme(t), domain.RoleManufacturer},
		{distCo(t), domain.RoleDistributor},
		{fastShip(t), domain.RoleTransporter},
		{pharm(t), domain.RoleRetailer},
	} {
		view.companies[c.key] = domain.Company{Key: c.key, Role: c.role}
	}
	return view
}

func payload(t *testing.T, v any) domain.ChangePayload {
	t.Helper()
	p, err := domain.NewChangePayloadFromValue(v)
	require.NoError(t, err)
	return p
}

func drugChange(t *testing.T, before, after *domain.Drug) domain.Change {
	t.Helper()
	change := domain.Change{
		Entity: domain.EntityDrug,
		Key:    mustKey(t)(domain.DrugKey("Paracetamol", "001")),
		Action: domain.ActionCreate,
		Before: domain.UndefinedChangePayload(),
		After:  payload(t, after),
	}
	if before != nil {
		change.Action = domain.ActionUpdate
		change.Before = payload(t, before)
	}
	return change
}

func TestCustodyTransitionRule(t *testing.T) {
	view := newStubView(t)
	owned := func(owner domain.Owner) *domain.Drug {
		return &domain.Drug{Name: "Paracetamol", SerialNo: "001", Manufacturer: acme(t), Owner: owner}
	}
	company := func(key domain.Key) domain.Owner { return domain.OwnerCompany(key) }

	tests := []struct {
		name    string
		before  *domain.Drug
		after   *domain.Drug
		blocked bool
	}{
		{"mint", nil, owned(company(acme(t))), false},
		{"mint owned by another", nil, owned(company(distCo(t))), true},
		{"mint by distributor", nil, &domain.Drug{Manufacturer: distCo(t), Owner: company(distCo(t))}, true},
		{"mint by unknown company", nil, &domain.Drug{Manufacturer: companyKey(t, "X", "Y"), Owner: company(companyKey(t, "X", "Y"))}, true},
		{"manufacturer to transporter", owned(company(acme(t))), owned(company(fastShip(t))), false},
		{"transporter to distributor", owned(company(fastShip(t))), owned(company(distCo(t))), false},
		{"distributor to transporter", owned(company(distCo(t))), owned(company(fastShip(t))), false},
		{"transporter to retailer", owned(company(fastShip(t))), owned(company(pharm(t))), false},
		{"retailer to consumer", owned(company(pharm(t))), owned("AADHAR123"), false},
		{"manufacturer to distributor", owned(company(acme(t))), owned(company(distCo(t))), true},
		{"distributor to consumer", owned(company(distCo(t))), owned("AADHAR123"), true},
		{"consumer resale", owned("AADHAR123"), owned("AADHAR456"), true},
		{"to unregistered company", owned(company(acme(t))), owned(company(companyKey(t, "X", "Y"))), true},
		{"manufacturer rewritten", owned(company(acme(t))), &domain.Drug{Manufacturer: distCo(t), Owner: company(acme(t))}, true},
		{"no owner change", owned(company(pharm(t))), owned(company(pharm(t))), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := CustodyTransitionRule().Evaluate(context.Background(), view, []domain.Change{drugChange(t, tc.before, tc.after)})
			require.NoError(t, err)
			assert.Equal(t, tc.blocked, res.HasBlocking(), "violations: %+v", res.Violations)
		})
	}
}

func TestShipmentLifecycleRule(t *testing.T) {
	key := mustKey(t)(domain.ShipmentKey("DIST001", "Paracetamol"))
	assets := []domain.Key{mustKey(t)(domain.DrugKey("Paracetamol", "001"))}
	raw := func(status string, assets []domain.Key, transporter domain.Key) domain.ChangePayload {
		b, err := json.Marshal(map[string]any{"shipmentID": key, "status": status, "assets": assets, "transporter": transporter})
		require.NoError(t, err)
		return domain.NewChangePayload(b)
	}
	other := companyKey(t, "TRA002", "SlowShip")

	tests := []struct {
		name    string
		before  domain.ChangePayload
		after   domain.ChangePayload
		blocked bool
	}{
		{"create in transit", domain.UndefinedChangePayload(), raw("in-transit", assets, fastShip(t)), false},
		{"create delivered", domain.UndefinedChangePayload(), raw("delivered", assets, fastShip(t)), true},
		{"create unknown status", domain.UndefinedChangePayload(), raw("lost", assets, fastShip(t)), true},
		{"deliver", raw("in-transit", assets, fastShip(t)), raw("delivered", assets, fastShip(t)), false},
		{"undeliver", raw("delivered", assets, fastShip(t)), raw("in-transit", assets, fastShip(t)), true},
		{"redeliver", raw("delivered", assets, fastShip(t)), raw("delivered", assets, fastShip(t)), false},
		{"swap assets", raw("in-transit", assets, fastShip(t)), raw("delivered", nil, fastShip(t)), true},
		{"swap transporter", raw("in-transit", assets, fastShip(t)), raw("in-transit", assets, other), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			change := domain.Change{Entity: domain.EntityShipment, Key: key, Before: tc.before, After: tc.after}
			res, err := ShipmentLifecycleRule().Evaluate(context.Background(), nil, []domain.Change{change})
			require.NoError(t, err)
			assert.Equal(t, tc.blocked, res.HasBlocking(), "violations: %+v", res.Violations)
		})
	}
}

func TestShipmentLifecycleRuleAllowsNextOrder(t *testing.T) {
	key := mustKey(t)(domain.ShipmentKey("DIST001", "Paracetamol"))
	orderKey := mustKey(t)(domain.PurchaseOrderKey("DIST001", "Paracetamol"))
	previous := domain.Shipment{Key: key, Assets: []domain.Key{mustKey(t)(domain.DrugKey("Paracetamol", "001"))}, Transporter: fastShip(t), Status: domain.StatusDelivered}
	next := domain.Shipment{Key: key, Assets: []domain.Key{mustKey(t)(domain.DrugKey("Paracetamol", "002"))}, Transporter: fastShip(t), Status: domain.StatusInTransit}
	replace := domain.Change{Entity: domain.EntityShipment, Key: key, Action: domain.ActionUpdate, Before: payload(t, previous), After: payload(t, next)}
	link := func(before, after domain.Key) domain.Change {
		return domain.Change{
			Entity: domain.EntityPurchaseOrder,
			Key:    orderKey,
			Action: domain.ActionUpdate,
			Before: payload(t, domain.PurchaseOrder{Key: orderKey, Quantity: 1, Shipment: before}),
			After:  payload(t, domain.PurchaseOrder{Key: orderKey, Quantity: 1, Shipment: after}),
		}
	}

	tests := []struct {
		name    string
		changes []domain.Change
		blocked bool
	}{
		{"order linked in the same write", []domain.Change{replace, link("", key)}, false},
		{"no order change", []domain.Change{replace}, true},
		{"order already linked", []domain.Change{replace, link(key, key)}, true},
		{"order linked elsewhere", []domain.Change{replace, link("", mustKey(t)(domain.ShipmentKey("RET001", "Paracetamol")))}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ShipmentLifecycleRule().Evaluate(context.Background(), nil, tc.changes)
			require.NoError(t, err)
			assert.Equal(t, tc.blocked, res.HasBlocking(), "violations: %+v", res.Violations)
		})
	}

	t.Run("replacement is held to the new order quantity", func(t *testing.T) {
		view := newStubView(t)
		view.orders[orderKey] = domain.PurchaseOrder{Key: orderKey, Quantity: 2, Shipment: key}
		res, err := ShipmentQuantityRule().Evaluate(context.Background(), view, []domain.Change{replace, link("", key)})
		require.NoError(t, err)
		assert.True(t, res.HasBlocking())
	})
}

func TestShipmentQuantityRule(t *testing.T) {
	view := newStubView(t)
	orderKey := mustKey(t)(domain.PurchaseOrderKey("DIST001", "Paracetamol"))
	view.orders[orderKey] = domain.PurchaseOrder{Key: orderKey, Quantity: 2}
	shipmentKey := mustKey(t)(domain.ShipmentKey("DIST001", "Paracetamol"))
	create := func(n int) domain.Change {
		assets := make([]domain.Key, n)
		for i := range assets {
			assets[i] = mustKey(t)(domain.DrugKey("Paracetamol", string(rune('a'+i))))
		}
		return domain.Change{
			Entity: domain.EntityShipment,
			Key:    shipmentKey,
			Action: domain.ActionCreate,
			Before: domain.UndefinedChangePayload(),
			After:  payload(t, domain.Shipment{Key: shipmentKey, Assets: assets, Status: domain.StatusInTransit}),
		}
	}

	res, err := ShipmentQuantityRule().Evaluate(context.Background(), view, []domain.Change{create(2)})
	require.NoError(t, err)
	assert.False(t, res.HasBlocking())

	res, err = ShipmentQuantityRule().Evaluate(context.Background(), view, []domain.Change{create(3)})
	require.NoError(t, err)
	require.True(t, res.HasBlocking())
	assert.Equal(t, shipmentQuantityRuleName, res.Violations[0].Rule)

	delete(view.orders, orderKey)
	res, err = ShipmentQuantityRule().Evaluate(context.Background(), view, []domain.Change{create(2)})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking(), "shipment without an order")
}

func TestDefaultRulesEngineOrder(t *testing.T) {
	assert.Equal(t, []string{custodyTransitionRuleName, shipmentLifecycleRuleName, shipmentQuantityRuleName}, NewDefaultRulesEngine().Rules())
}

type funcRule struct {
	name string
	fn   func([]domain.Change) (domain.Result, error)
}

func (r funcRule) Name() string { return r.name }

func (r funcRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	return r.fn(changes)
}

func TestBlockingRuleRollsBackOperation(t *testing.T) {
	engine := NewDefaultRulesEngine()
	engine.Register(funcRule{name: "no_aspirin", fn: func(changes []domain.Change) (domain.Result, error) {
		var res domain.Result
		for _, c := range changes {
			if d, ok := domain.DecodeChangePayload[domain.Drug](c.After); ok && d.Name == "Aspirin" {
				res.Violations = append(res.Violations, domain.Violation{Rule: "no_aspirin", Severity: domain.SeverityBlock, Message: "aspirin is not stocked", Entity: c.Entity, Key: c.Key})
			}
		}
		return res, nil
	}})
	f := newFixture(t, WithRulesEngine(engine))
	f.registerAll()

	_, _, err := f.svc.AddDrug(f.ctx, manufacturerAdmin, "Aspirin", "001", "2024-01-01", "2026-01-01", "MAN001")
	require.ErrorIs(t, err, domain.ErrRuleViolation)
	var rve domain.RuleViolationError
	require.True(t, errors.As(err, &rve))
	assert.Equal(t, "no_aspirin", rve.Result.Violations[0].Rule)

	_, err = f.svc.ViewDrugCurrentState(f.ctx, manufacturerAdmin, "Aspirin", "001")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWarningRuleDoesNotBlock(t *testing.T) {
	engine := domain.NewRulesEngine()
	var seen []domain.Change
	engine.Register(funcRule{name: "watch", fn: func(changes []domain.Change) (domain.Result, error) {
		seen = append(seen, changes...)
		return domain.Result{Violations: []domain.Violation{{Rule: "watch", Severity: domain.SeverityWarn, Message: "noted"}}}, nil
	}})
	f := newFixture(t, WithRulesEngine(engine))
	f.registerAll()
	require.Len(t, seen, 4)
	assert.Equal(t, domain.ActionCreate, seen[0].Action)
	assert.False(t, seen[0].Before.Defined())
}

func TestRuleErrorAbortsOperation(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(funcRule{name: "broken", fn: func([]domain.Change) (domain.Result, error) {
		return domain.Result{}, errors.New("rule backend down")
	}})
	f := newFixture(t, WithRulesEngine(engine))
	_, _, err := f.svc.RegisterCompany(f.ctx, manufacturerAdmin, "MAN001", "Acme", "Mumbai", "Manufacturer")
	require.ErrorContains(t, err, "rule backend down")
	assert.Zero(t, f.store.Height())
}

func TestNilRulesEngineAppliesNoPolicy(t *testing.T) {
	f := newFixture(t, WithRulesEngine(nil))
	f.registerAll()
	assert.Empty(t, f.svc.Custody().Rules().Rules())
	assert.Equal(t, uint64(4), f.store.Height())
}
