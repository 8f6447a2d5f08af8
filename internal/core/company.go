package core

import (
	"context"
	"fmt"

	"pharmanet/pkg/domain"
)

// RegisterCompany records a new participant. Consumers may not register
// companies, and a CRN can be registered only once.
func (c *Custody) RegisterCompany(ctx context.Context, tctx domain.TxContext, crn, name, location, role string) (domain.Company, error) {
	var company domain.Company
	err := c.run(ctx, tctx, OpRegisterCompany, func(s *session) error {
		org, err := s.callerOrg()
		if err != nil {
			return err
		}
		if org == domain.OrgConsumer {
			return &domain.Error{Kind: domain.KindUnauthorized, Detail: "consumers cannot register companies"}
		}
		parsed, err := domain.ParseRole(role)
		if err != nil {
			return err
		}
		key, err := domain.CompanyKey(crn, name)
		if err != nil {
			return err
		}
		for kv, err := range s.ledger.ScanPrefix(domain.NamespaceCompany, crn) {
			if err != nil {
				return fmt.Errorf("scan companies %s: %w", crn, err)
			}
			return &domain.Error{Kind: domain.KindDuplicate, Entity: domain.EntityCompany, Key: kv.Key, Detail: "CRN " + crn + " is already registered"}
		}
		createdAt, err := s.tctx.Timestamp()
		if err != nil {
			return fmt.Errorf("transaction timestamp: %w", err)
		}
		company = domain.Company{
			Key:       key,
			CRN:       crn,
			Name:      name,
			Location:  location,
			Role:      parsed,
			Hierarchy: parsed.Level(),
			CreatedAt: createdAt.UTC(),
		}
		return s.put(domain.EntityCompany, key, company)
	})
	if err != nil {
		return domain.Company{}, err
	}
	return company, nil
}
