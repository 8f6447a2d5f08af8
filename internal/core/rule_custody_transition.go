package core

import (
	"context"
	"fmt"

	"pharmanet/pkg/domain"
)

const custodyTransitionRuleName = "custody_transition"

// CustodyTransitionRule enforces the direction of drug custody: every unit
// starts with its manufacturer, passes through transporters between trading
// companies, and ends with a consumer.
func CustodyTransitionRule() domain.Rule {
	return custodyTransitionRule{}
}

type custodyTransitionRule struct{}

const consumerCustodian = "Consumer"

// allowedHandovers lists the legal owner moves as "from>to".
var allowedHandovers = toSet(
	"Manufacturer>Transporter",
	"Distributor>Transporter",
	"Transporter>Distributor",
	"Transporter>Retailer",
	"Retailer>"+consumerCustodian,
)

func (custodyTransitionRule) Name() string { return custodyTransitionRuleName }

func (custodyTransitionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(key domain.Key, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     custodyTransitionRuleName,
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   domain.EntityDrug,
			Key:      key,
		})
	}
	custodian := func(owner domain.Owner) (string, bool) {
		key, isCompany := owner.CompanyKey()
		if !isCompany {
			return consumerCustodian, owner != ""
		}
		company, ok := view.FindCompany(key)
		if !ok {
			return "", false
		}
		return company.Role.String(), true
	}

	for _, change := range changes {
		if change.Entity != domain.EntityDrug {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.Drug](change.After)
		if !ok {
			continue
		}
		before, existed := domain.DecodeChangePayload[domain.Drug](change.Before)
		if !existed {
			maker, ok := view.FindCompany(after.Manufacturer)
			switch {
			case !ok:
				block(change.Key, "manufacturer %s is not registered", after.Manufacturer)
			case maker.Role != domain.RoleManufacturer:
				block(change.Key, "drug minted by a %s", maker.Role)
			case after.Owner != domain.OwnerCompany(after.Manufacturer):
				block(change.Key, "new drug must be owned by its manufacturer")
			}
			continue
		}

		if after.Manufacturer != before.Manufacturer {
			block(change.Key, "manufacturer is immutable")
		}
		if after.Owner == before.Owner {
			continue
		}
		if before.ConsumerOwned() {
			block(change.Key, "drug already sold to a consumer")
			continue
		}
		from, okFrom := custodian(before.Owner)
		to, okTo := custodian(after.Owner)
		if !okFrom || !okTo {
			block(change.Key, "custody moves between unknown parties %s and %s", before.Owner, after.Owner)
			continue
		}
		if _, allowed := allowedHandovers[from+">"+to]; !allowed {
			block(change.Key, "custody cannot pass from %s to %s", from, to)
		}
	}
	return res, nil
}
