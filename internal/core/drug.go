package core

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"pharmanet/pkg/domain"
)

// Accepted manufacturing and expiry date layouts.
var dateLayouts = []string{time.DateOnly, time.RFC3339}

func parseDate(field, value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &domain.Error{Kind: domain.KindInvalidArgument, Entity: domain.EntityDrug, Detail: fmt.Sprintf("%s %q is not a date", field, value)}
}

// AddDrug mints a drug unit owned by its manufacturer.
func (c *Custody) AddDrug(ctx context.Context, tctx domain.TxContext, name, serialNo, mfgDate, expDate, manufacturerCRN string) (domain.Drug, error) {
	var drug domain.Drug
	err := c.run(ctx, tctx, OpAddDrug, func(s *session) error {
		if _, err := s.authorize(domain.OrgManufacturer); err != nil {
			return err
		}
		key, err := domain.DrugKey(name, serialNo)
		if err != nil {
			return err
		}
		manufacturer, err := s.resolveCompany(manufacturerCRN, domain.KindUnknownCompany)
		if err != nil {
			return err
		}
		if manufacturer.Role != domain.RoleManufacturer {
			return &domain.Error{Kind: domain.KindInvalidRole, Entity: domain.EntityCompany, Key: manufacturer.Key, Detail: fmt.Sprintf("company is a %s, not a Manufacturer", manufacturer.Role)}
		}
		mfg, err := parseDate("manufacturing date", mfgDate)
		if err != nil {
			return err
		}
		exp, err := parseDate("expiry date", expDate)
		if err != nil {
			return err
		}
		if exp.Before(mfg) {
			return &domain.Error{Kind: domain.KindInvalidArgument, Entity: domain.EntityDrug, Key: key, Detail: "expiry date precedes manufacturing date"}
		}
		if _, exists, err := load[domain.Drug](s, domain.EntityDrug, key); err != nil {
			return err
		} else if exists {
			return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityDrug, Key: key}
		}
		drug = domain.Drug{
			Key:               key,
			Name:              name,
			SerialNo:          serialNo,
			Manufacturer:      manufacturer.Key,
			ManufacturingDate: mfgDate,
			ExpiryDate:        expDate,
			Owner:             domain.OwnerCompany(manufacturer.Key),
		}
		return s.put(domain.EntityDrug, key, drug)
	})
	if err != nil {
		return domain.Drug{}, err
	}
	return drug, nil
}

// ViewDrugCurrentState returns the drug at (name, serialNo).
func (c *Custody) ViewDrugCurrentState(ctx context.Context, tctx domain.TxContext, name, serialNo string) (domain.Drug, error) {
	var drug domain.Drug
	err := c.run(ctx, tctx, OpViewDrugCurrentState, func(s *session) error {
		key, err := domain.DrugKey(name, serialNo)
		if err != nil {
			return err
		}
		d, ok, err := load[domain.Drug](s, domain.EntityDrug, key)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError(domain.EntityDrug, key)
		}
		drug = d
		return nil
	})
	if err != nil {
		return domain.Drug{}, err
	}
	return drug, nil
}

// ViewHistory lazily yields every committed value of the drug, oldest first.
// Delete markers are skipped. The sequence reads the ledger afresh each time
// it is ranged over.
func (c *Custody) ViewHistory(ctx context.Context, tctx domain.TxContext, name, serialNo string) iter.Seq2[domain.DrugVersion, error] {
	return func(yield func(domain.DrugVersion, error) bool) {
		started := c.clock.Now()
		_, span := c.tracer.Start(ctx, OpViewHistory)
		span.Annotate("tx_id", tctx.TxID())
		var err error
		defer func() {
			span.End(err)
			c.metrics.Observe(ctx, OpViewHistory, err == nil, c.clock.Now().Sub(started))
		}()

		key, kerr := domain.DrugKey(name, serialNo)
		if kerr != nil {
			err = kerr
			yield(domain.DrugVersion{}, err)
			return
		}
		for entry, herr := range tctx.Ledger().History(key) {
			if herr != nil {
				err = fmt.Errorf("history of %s: %w", key, herr)
				yield(domain.DrugVersion{}, err)
				return
			}
			if entry.IsDelete {
				continue
			}
			drug, derr := domain.DecodeDrug(entry.Value)
			if derr != nil {
				err = fmt.Errorf("decode drug %s at %s: %w", key, entry.TxID, derr)
				yield(domain.DrugVersion{}, err)
				return
			}
			if !yield(domain.DrugVersion{TxID: entry.TxID, Timestamp: entry.Timestamp, Drug: drug}, nil) {
				return
			}
		}
	}
}

// CollectHistory drains a history sequence into a slice.
func CollectHistory(seq iter.Seq2[domain.DrugVersion, error]) ([]domain.DrugVersion, error) {
	var out []domain.DrugVersion
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return slices.Clip(out), nil
}
