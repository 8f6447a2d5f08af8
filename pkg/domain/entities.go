// Package domain defines the custody records, value types, ledger contracts,
// and rule evaluation primitives used by pharmanet.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored on the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and error reports.
const (
	// EntityCompany identifies a registered supply-chain participant.
	EntityCompany EntityType = "company"
	// EntityDrug identifies an individual drug unit.
	EntityDrug EntityType = "drug"
	// EntityPurchaseOrder identifies a buyer's purchase intent.
	EntityPurchaseOrder EntityType = "purchase_order"
	// EntityShipment identifies a consignment of drug units in transit.
	EntityShipment EntityType = "shipment"
)

// Ledger namespaces. These match the keys written by earlier deployments of
// the network so that existing world state stays readable.
const (
	NamespaceCompany       = "org.pharma-network.pharmanet.company"
	NamespaceDrug          = "org.pharma-network.pharmanet.drug"
	NamespacePurchaseOrder = "org.pharma-network.pharmanet.productOrders"
	NamespaceShipment      = "org.pharma-network.pharmanet.shipment"
)

var entityNamespaces = map[EntityType]string{
	EntityCompany:       NamespaceCompany,
	EntityDrug:          NamespaceDrug,
	EntityPurchaseOrder: NamespacePurchaseOrder,
	EntityShipment:      NamespaceShipment,
}

// Namespace returns the composite key namespace for the entity type.
func (e EntityType) Namespace() string {
	return entityNamespaces[e]
}

// EntityForNamespace maps a composite key namespace back to its entity type.
func EntityForNamespace(namespace string) (EntityType, bool) {
	for entity, ns := range entityNamespaces {
		if ns == namespace {
			return entity, true
		}
	}
	return "", false
}

// Role is the closed set of positions a company can occupy in the chain.
type Role uint8

// Recognised company roles. The zero value is never valid.
const (
	RoleUnknown Role = iota
	RoleManufacturer
	RoleDistributor
	RoleRetailer
	RoleTransporter
)

var roleNames = [...]string{
	RoleUnknown:      "",
	RoleManufacturer: "Manufacturer",
	RoleDistributor:  "Distributor",
	RoleRetailer:     "Retailer",
	RoleTransporter:  "Transporter",
}

// ParseRole resolves a role name. Matching ignores case and surrounding
// whitespace; anything outside the four roles fails with ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	trimmed := strings.TrimSpace(s)
	for r := RoleManufacturer; r <= RoleTransporter; r++ {
		if strings.EqualFold(roleNames[r], trimmed) {
			return r, nil
		}
	}
	return RoleUnknown, &Error{Kind: KindInvalidRole, Detail: fmt.Sprintf("unrecognised role %q", s)}
}

// Valid reports whether r is one of the four recognised roles.
func (r Role) Valid() bool {
	return r >= RoleManufacturer && r <= RoleTransporter
}

func (r Role) String() string {
	if int(r) < len(roleNames) && r.Valid() {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Level maps the role onto the trading hierarchy.
func (r Role) Level() HierarchyLevel {
	switch r {
	case RoleManufacturer:
		return LevelManufacturer
	case RoleDistributor:
		return LevelDistributor
	case RoleRetailer:
		return LevelRetailer
	default:
		return LevelNone
	}
}

// CanBuyFrom reports whether a company holding role r may place a purchase
// order with a seller holding the given role. Only adjacent hierarchy levels
// trade: a Retailer buys from a Distributor and a Distributor buys from a
// Manufacturer.
func (r Role) CanBuyFrom(seller Role) bool {
	switch r {
	case RoleRetailer:
		return seller == RoleDistributor
	case RoleDistributor:
		return seller == RoleManufacturer
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, &Error{Kind: KindInvalidRole, Detail: fmt.Sprintf("cannot encode role %d", uint8(r))}
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown roles.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// HierarchyLevel orders the trading roles. Transporters sit outside the
// hierarchy and carry LevelNone.
type HierarchyLevel uint8

// Hierarchy levels. LevelNone is not comparable with the others.
const (
	LevelNone HierarchyLevel = iota
	LevelManufacturer
	LevelDistributor
	LevelRetailer
)

// Ranked reports whether the level takes part in hierarchy comparisons.
func (l HierarchyLevel) Ranked() bool {
	return l >= LevelManufacturer && l <= LevelRetailer
}

// Less reports whether l is strictly upstream of other. Unranked levels are
// never less than anything.
func (l HierarchyLevel) Less(other HierarchyLevel) bool {
	return l.Ranked() && other.Ranked() && l < other
}

// MarshalText encodes ranked levels as "1".."3" and LevelNone as "".
func (l HierarchyLevel) MarshalText() ([]byte, error) {
	if !l.Ranked() {
		return []byte{}, nil
	}
	return []byte{byte('0' + l)}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *HierarchyLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*l = LevelNone
	case "1":
		*l = LevelManufacturer
	case "2":
		*l = LevelDistributor
	case "3":
		*l = LevelRetailer
	default:
		return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("unrecognised hierarchy key %q", text)}
	}
	return nil
}

// ShipmentStatus is the closed lifecycle of a shipment.
type ShipmentStatus uint8

// Shipment states. Delivered is terminal.
const (
	StatusUnknown ShipmentStatus = iota
	StatusInTransit
	StatusDelivered
)

func (s ShipmentStatus) String() string {
	switch s {
	case StatusInTransit:
		return "in-transit"
	case StatusDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("ShipmentStatus(%d)", uint8(s))
	}
}

// Valid reports whether s is a recognised status.
func (s ShipmentStatus) Valid() bool {
	return s == StatusInTransit || s == StatusDelivered
}

// Terminal reports whether no further transition is allowed out of s.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered
}

// MarshalText implements encoding.TextMarshaler.
func (s ShipmentStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("cannot encode shipment status %d", uint8(s))}
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown states.
func (s *ShipmentStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "in-transit":
		*s = StatusInTransit
	case "delivered":
		*s = StatusDelivered
	default:
		return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("unrecognised shipment status %q", text)}
	}
	return nil
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Company is a registered participant. At most one company exists per CRN.
type Company struct {
	Key       Key            `json:"companyID"`
	CRN       string         `json:"crn"`
	Name      string         `json:"name"`
	Location  string         `json:"location"`
	Role      Role           `json:"organisationRole"`
	Hierarchy HierarchyLevel `json:"hierarchyKey"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Owner is the current custodian of a drug: either a company key or, once
// sold, the raw identity of the consumer.
type Owner string

// OwnerCompany wraps a company key as an owner reference.
func OwnerCompany(key Key) Owner { return Owner(key) }

// IsCompany reports whether the owner references a registered company.
func (o Owner) IsCompany() bool {
	return Key(o).Namespace() == NamespaceCompany
}

// CompanyKey returns the company key when the owner is a company.
func (o Owner) CompanyKey() (Key, bool) {
	if !o.IsCompany() {
		return "", false
	}
	return Key(o), true
}

// Drug is a single serialised unit. Drugs are never deleted.
type Drug struct {
	Key               Key    `json:"productID"`
	Name              string `json:"name"`
	SerialNo          string `json:"serialNo"`
	Manufacturer      Key    `json:"manufacturer"`
	ManufacturingDate string `json:"manufacturingDate"`
	ExpiryDate        string `json:"expiryDate"`
	Owner             Owner  `json:"owner"`
	Shipment          Key    `json:"shipment"`
}

// ConsumerOwned reports whether the drug has reached its terminal custodian.
func (d Drug) ConsumerOwned() bool {
	return d.Owner != "" && !d.Owner.IsCompany()
}

// PurchaseOrder records a buyer's intent to acquire quantity units of a drug.
// Shipment stays empty until the seller ships against the order.
type PurchaseOrder struct {
	Key      Key    `json:"poID"`
	DrugName string `json:"drugName"`
	Quantity int    `json:"quantity"`
	Buyer    Key    `json:"buyer"`
	Seller   Key    `json:"seller"`
	Shipment Key    `json:"shipment,omitempty"`
}

// Shipped reports whether a shipment has been created against the order.
func (o PurchaseOrder) Shipped() bool { return o.Shipment != "" }

// Shipment is a consignment of drug units created against a purchase order.
type Shipment struct {
	Key         Key            `json:"shipmentID"`
	Creator     string         `json:"creator"`
	Assets      []Key          `json:"assets"`
	Transporter Key            `json:"transporter"`
	Status      ShipmentStatus `json:"status"`
}

// DrugVersion is one historical value of a drug key.
type DrugVersion struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Drug      Drug      `json:"value"`
}

// Change describes a mutation applied to a ledger record during a transaction.
type Change struct {
	Entity EntityType
	Key    Key
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions. Custody records are never deleted.
const (
	// ActionCreate indicates a record was written under a fresh key.
	ActionCreate Action = "create"
	// ActionUpdate indicates an existing record was replaced.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	Key      Key
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Is lets errors.Is match RuleViolationError against ErrRuleViolation.
func (e RuleViolationError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindRuleViolation
}

func decodeRecord[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// DecodeCompany decodes a company record from its ledger encoding.
func DecodeCompany(raw []byte) (Company, error) { return decodeRecord[Company](raw) }

// DecodeDrug decodes a drug record from its ledger encoding.
func DecodeDrug(raw []byte) (Drug, error) { return decodeRecord[Drug](raw) }

// DecodePurchaseOrder decodes a purchase order from its ledger encoding.
func DecodePurchaseOrder(raw []byte) (PurchaseOrder, error) {
	return decodeRecord[PurchaseOrder](raw)
}

// DecodeShipment decodes a shipment record from its ledger encoding.
func DecodeShipment(raw []byte) (Shipment, error) { return decodeRecord[Shipment](raw) }
