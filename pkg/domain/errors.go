package domain

import (
	"errors"
	"fmt"
)

// Kind classifies custody failures so callers can branch on them with errors.Is.
type Kind uint8

// Error kinds reported by custody operations and ledger backends.
const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindInvalidRole
	KindInvalidTradeDirection
	KindUnknownCompany
	KindUnknownTransporter
	KindInvalidTransporterRole
	KindNoSuchOrder
	KindNoSuchShipment
	KindNotFound
	KindQuantityMismatch
	KindUnregisteredDrug
	KindNotOwner
	KindAlreadyDelivered
	KindDuplicate
	KindInvalidArgument
	KindConflict
	KindRuleViolation
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindUnauthorized:           "unauthorized",
	KindInvalidRole:            "invalid role",
	KindInvalidTradeDirection:  "invalid trade direction",
	KindUnknownCompany:         "unknown company",
	KindUnknownTransporter:     "unknown transporter",
	KindInvalidTransporterRole: "invalid transporter role",
	KindNoSuchOrder:            "no such order",
	KindNoSuchShipment:         "no such shipment",
	KindNotFound:               "not found",
	KindQuantityMismatch:       "quantity mismatch",
	KindUnregisteredDrug:       "unregistered drug",
	KindNotOwner:               "not owner",
	KindAlreadyDelivered:       "already delivered",
	KindDuplicate:              "duplicate",
	KindInvalidArgument:        "invalid argument",
	KindConflict:               "conflict",
	KindRuleViolation:          "rule violation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the structured failure returned by custody operations. It names
// the invariant that failed and the offending entity, key, or value.
type Error struct {
	Kind   Kind
	Entity EntityType
	Key    Key
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg += ": " + string(e.Entity)
	}
	if e.Key != "" {
		msg += " " + e.Key.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any *Error with the same Kind, so the ErrX sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInvalidRole            = &Error{Kind: KindInvalidRole}
	ErrInvalidTradeDirection  = &Error{Kind: KindInvalidTradeDirection}
	ErrUnknownCompany         = &Error{Kind: KindUnknownCompany}
	ErrUnknownTransporter     = &Error{Kind: KindUnknownTransporter}
	ErrInvalidTransporterRole = &Error{Kind: KindInvalidTransporterRole}
	ErrNoSuchOrder            = &Error{Kind: KindNoSuchOrder}
	ErrNoSuchShipment         = &Error{Kind: KindNoSuchShipment}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrQuantityMismatch       = &Error{Kind: KindQuantityMismatch}
	ErrUnregisteredDrug       = &Error{Kind: KindUnregisteredDrug}
	ErrNotOwner               = &Error{Kind: KindNotOwner}
	ErrAlreadyDelivered       = &Error{Kind: KindAlreadyDelivered}
	ErrDuplicate              = &Error{Kind: KindDuplicate}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrRuleViolation          = &Error{Kind: KindRuleViolation}
)

// ErrReadOnly is returned when a write is attempted through a read-only view.
var ErrReadOnly = errors.New("ledger view is read-only")

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var tde TradeDirectionError
	if errors.As(err, &tde) {
		return KindInvalidTradeDirection
	}
	var qme QuantityMismatchError
	if errors.As(err, &qme) {
		return KindQuantityMismatch
	}
	var rve RuleViolationError
	if errors.As(err, &rve) {
		return KindRuleViolation
	}
	return KindUnknown
}

// TradeDirectionError reports a purchase between roles that may not trade.
// Seller is RoleUnknown when the buyer's role cannot buy at all, as with a
// consumer purchasing from a non-retailer.
type TradeDirectionError struct {
	Buyer  string
	Seller Role
}

func (e TradeDirectionError) Error() string {
	return fmt.Sprintf("invalid trade direction: %s cannot buy from %s", e.Buyer, e.Seller)
}

// Is matches ErrInvalidTradeDirection.
func (e TradeDirectionError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindInvalidTradeDirection
}

// QuantityMismatchError reports a shipment whose asset count differs from
// the order quantity.
type QuantityMismatchError struct {
	Order    Key
	Expected int
	Actual   int
}

func (e QuantityMismatchError) Error() string {
	return fmt.Sprintf("quantity mismatch: order %s expects %d assets, got %d", e.Order, e.Expected, e.Actual)
}

// Is matches ErrQuantityMismatch.
func (e QuantityMismatchError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindQuantityMismatch
}

// NotFoundError builds a KindNotFound error for key.
func NotFoundError(entity EntityType, key Key) error {
	return &Error{Kind: KindNotFound, Entity: entity, Key: key}
}
