package core

import (
	"context"
	"strings"

	"pharmanet/pkg/domain"
)

// RetailDrug sells a drug held by the retailer to an end consumer. Consumer
// ownership is terminal.
func (c *Custody) RetailDrug(ctx context.Context, tctx domain.TxContext, drugName, serialNo, retailerCRN, consumer string) (domain.Drug, error) {
	var drug domain.Drug
	err := c.run(ctx, tctx, OpRetailDrug, func(s *session) error {
		if _, err := s.authorize(domain.OrgRetailer); err != nil {
			return err
		}
		key, err := domain.DrugKey(drugName, serialNo)
		if err != nil {
			return err
		}
		current, ok, err := load[domain.Drug](s, domain.EntityDrug, key)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError(domain.EntityDrug, key)
		}
		retailer, err := s.resolveCompany(retailerCRN, domain.KindUnknownCompany)
		if err != nil {
			return err
		}
		if current.Owner != domain.OwnerCompany(retailer.Key) {
			return &domain.Error{Kind: domain.KindNotOwner, Entity: domain.EntityDrug, Key: key, Detail: "not held by " + retailerCRN}
		}
		// only a retailer that holds the unit may sell it on
		if retailer.Role != domain.RoleRetailer {
			return domain.TradeDirectionError{Buyer: "consumer", Seller: retailer.Role}
		}
		consumer = strings.TrimSpace(consumer)
		if consumer == "" || strings.ContainsRune(consumer, 0) {
			return &domain.Error{Kind: domain.KindInvalidArgument, Entity: domain.EntityDrug, Key: key, Detail: "consumer identity must be a non-empty printable string"}
		}
		current.Owner = domain.Owner(consumer)
		drug = current
		return s.put(domain.EntityDrug, key, drug)
	})
	if err != nil {
		return domain.Drug{}, err
	}
	return drug, nil
}
