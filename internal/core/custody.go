// Package core implements the pharmanet custody state machine: company
// registration, drug minting, purchase orders, shipments and retail sale,
// expressed as deterministic transitions over ledger records.
package core

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmanet/pkg/domain"
	"pharmanet/pkg/logger"
)

// Operation names used for logging, metrics and tracing.
const (
	OpRegisterCompany      = "registerCompany"
	OpAddDrug              = "addDrug"
	OpCreatePO             = "createPO"
	OpCreateShipment       = "createShipment"
	OpUpdateShipment       = "updateShipment"
	OpRetailDrug           = "retailDrug"
	OpViewDrugCurrentState = "viewDrugCurrentState"
	OpViewHistory          = "viewHistory"
)

// Custody executes custody operations against the ledger of a transaction
// context. It holds configuration only; every invocation starts from the
// ledger.
type Custody struct {
	rules     *domain.RulesEngine
	directory domain.OrgDirectory
	clock     Clock
	log       *logger.Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
}

// NewCustody constructs a Custody with the default rules and MSP directory.
func NewCustody(opts ...Option) *Custody {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Custody{
		rules:     o.rules,
		directory: o.directory,
		clock:     o.clock,
		log:       o.logger.Component("custody"),
		audit:     o.audit,
		metrics:   o.metrics,
		tracer:    o.tracer,
	}
}

// Rules returns the active rules engine.
func (c *Custody) Rules() *domain.RulesEngine { return c.rules }

// run wraps one operation: it opens a session over tctx, invokes fn, and
// flushes the session's buffered writes once fn and the rules succeed.
func (c *Custody) run(ctx context.Context, tctx domain.TxContext, op string, fn func(*session) error) (err error) {
	started := c.clock.Now()
	ctx, span := c.tracer.Start(ctx, op)
	s := &session{ctx: ctx, custody: c, tctx: tctx, ledger: tctx.Ledger(), pending: make(map[domain.Key][]byte)}

	var mspID, callerID string
	if caller := tctx.Caller(); caller != nil {
		mspID, _ = caller.GetMSPID()
		callerID, _ = caller.GetID()
	}
	span.Annotate("tx_id", tctx.TxID())
	span.Annotate("msp", mspID)

	defer func() {
		elapsed := c.clock.Now().Sub(started)
		span.End(err)
		c.metrics.Observe(ctx, op, err == nil, elapsed)
		entry := AuditEntry{
			Operation: op,
			Status:    AuditStatusSuccess,
			TxID:      tctx.TxID(),
			MSPID:     mspID,
			Caller:    callerID,
			Duration:  elapsed,
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
			c.log.Warn().Err(err).Str("op", op).Str("tx_id", tctx.TxID()).Str("msp", mspID).Str("kind", domain.KindOf(err).String()).Msg("operation rejected")
		} else {
			c.log.Debug().Str("op", op).Str("tx_id", tctx.TxID()).Str("msp", mspID).Int("writes", len(s.order)).Msg("operation applied")
		}
		c.audit.Record(ctx, entry)
	}()

	if err = fn(s); err != nil {
		return err
	}
	return s.flush()
}

// session is the working set of one operation. Writes are buffered and
// readable through the session so later steps see earlier ones; nothing
// reaches the ledger until flush.
type session struct {
	ctx     context.Context
	custody *Custody
	tctx    domain.TxContext
	ledger  domain.Ledger
	pending map[domain.Key][]byte
	order   []domain.Key
	changes []domain.Change
}

var _ domain.RuleView = (*session)(nil)

// callerOrg resolves the invoking organisation.
func (s *session) callerOrg() (domain.Organization, error) {
	caller := s.tctx.Caller()
	if caller == nil {
		return domain.OrgUnknown, &domain.Error{Kind: domain.KindUnauthorized, Detail: "no caller identity"}
	}
	mspID, err := caller.GetMSPID()
	if err != nil {
		return domain.OrgUnknown, &domain.Error{Kind: domain.KindUnauthorized, Detail: "caller MSP unavailable: " + err.Error()}
	}
	return s.custody.directory.Resolve(mspID)
}

// authorize fails with Unauthorized unless the caller belongs to one of allowed.
func (s *session) authorize(allowed ...domain.Organization) (domain.Organization, error) {
	org, err := s.callerOrg()
	if err != nil {
		return org, err
	}
	for _, a := range allowed {
		if org == a {
			return org, nil
		}
	}
	return org, &domain.Error{Kind: domain.KindUnauthorized, Detail: fmt.Sprintf("organisation %s may not perform this operation", org)}
}

func (s *session) getState(key domain.Key) ([]byte, error) {
	if v, ok := s.pending[key]; ok {
		return v, nil
	}
	raw, err := s.ledger.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, nil
}

// load reads and decodes the record at key. It reports false when absent.
func load[T any](s *session, entity domain.EntityType, key domain.Key) (T, bool, error) {
	var out T
	raw, err := s.getState(key)
	if err != nil || raw == nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s %s: %w", entity, key, err)
	}
	return out, true, nil
}

// put stages record under key and records the change for rule evaluation.
func (s *session) put(entity domain.EntityType, key domain.Key, record any) error {
	before, err := s.getState(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entity, key, err)
	}
	change := domain.Change{
		Entity: entity,
		Key:    key,
		Action: domain.ActionCreate,
		Before: domain.UndefinedChangePayload(),
		After:  domain.NewChangePayload(raw),
	}
	if before != nil {
		change.Action = domain.ActionUpdate
		change.Before = domain.NewChangePayload(before)
	}
	if _, staged := s.pending[key]; !staged {
		s.order = append(s.order, key)
	}
	s.pending[key] = raw
	s.changes = append(s.changes, change)
	return nil
}

// flush evaluates the rules over the recorded changes and, when nothing
// blocks, hands the buffered writes to the ledger in staging order.
func (s *session) flush() error {
	if len(s.changes) == 0 {
		return nil
	}
	res, err := s.custody.rules.Evaluate(s.ctx, s, s.changes)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.custody.log.Warn().Str("rule", v.Rule).Str("key", v.Key.String()).Msg(v.Message)
		}
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	for _, key := range s.order {
		if err := s.ledger.PutState(key, s.pending[key]); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	return nil
}

func (s *session) FindCompany(key domain.Key) (domain.Company, bool) {
	c, ok, err := load[domain.Company](s, domain.EntityCompany, key)
	return c, ok && err == nil
}

func (s *session) FindDrug(key domain.Key) (domain.Drug, bool) {
	d, ok, err := load[domain.Drug](s, domain.EntityDrug, key)
	return d, ok && err == nil
}

func (s *session) FindPurchaseOrder(key domain.Key) (domain.PurchaseOrder, bool) {
	po, ok, err := load[domain.PurchaseOrder](s, domain.EntityPurchaseOrder, key)
	return po, ok && err == nil
}

func (s *session) FindShipment(key domain.Key) (domain.Shipment, bool) {
	sh, ok, err := load[domain.Shipment](s, domain.EntityShipment, key)
	return sh, ok && err == nil
}

// resolveCompany finds the company registered under crn. Company keys carry
// the name as a second attribute, so this is the one place a prefix scan is
// needed.
func (s *session) resolveCompany(crn string, kind domain.Kind) (domain.Company, error) {
	if _, err := domain.CompositeKey(domain.NamespaceCompany, crn); err != nil {
		return domain.Company{}, err
	}
	for kv, err := range s.ledger.ScanPrefix(domain.NamespaceCompany, crn) {
		if err != nil {
			return domain.Company{}, fmt.Errorf("scan companies %s: %w", crn, err)
		}
		company, err := domain.DecodeCompany(kv.Value)
		if err != nil {
			return domain.Company{}, fmt.Errorf("decode company %s: %w", kv.Key, err)
		}
		return company, nil
	}
	return domain.Company{}, &domain.Error{Kind: kind, Entity: domain.EntityCompany, Detail: "no company registered with CRN " + crn}
}

// companyByKey loads a company referenced from another record.
func (s *session) companyByKey(key domain.Key) (domain.Company, error) {
	company, ok, err := load[domain.Company](s, domain.EntityCompany, key)
	if err != nil {
		return domain.Company{}, err
	}
	if !ok {
		return domain.Company{}, &domain.Error{Kind: domain.KindUnknownCompany, Entity: domain.EntityCompany, Key: key}
	}
	return company, nil
}
