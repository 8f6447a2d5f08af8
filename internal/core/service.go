package core

import (
	"context"
	"iter"

	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

// Service runs custody operations against a local persistent store, one
// store transaction per operation. It is the off-chain invocation surface
// used by tools and tests.
type Service struct {
	store   domain.PersistentStore
	custody *Custody
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, custody *Custody) *Service {
	if custody == nil {
		custody = NewCustody()
	}
	return &Service{store: store, custody: custody}
}

// NewInMemoryService creates a service over a fresh in-memory ledger.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), NewCustody(opts...))
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Custody returns the custody engine.
func (s *Service) Custody() *Custody { return s.custody }

// RegisterCompany persists a new company.
func (s *Service) RegisterCompany(ctx context.Context, caller domain.Identity, crn, name, location, role string) (domain.Company, domain.Receipt, error) {
	var company domain.Company
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		company, err = s.custody.RegisterCompany(ctx, tx, crn, name, location, role)
		return err
	})
	return company, receipt, err
}

// AddDrug mints a drug unit.
func (s *Service) AddDrug(ctx context.Context, caller domain.Identity, name, serialNo, mfgDate, expDate, manufacturerCRN string) (domain.Drug, domain.Receipt, error) {
	var drug domain.Drug
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		drug, err = s.custody.AddDrug(ctx, tx, name, serialNo, mfgDate, expDate, manufacturerCRN)
		return err
	})
	return drug, receipt, err
}

// CreatePO records a purchase order.
func (s *Service) CreatePO(ctx context.Context, caller domain.Identity, buyerCRN, sellerCRN, drugName string, quantity int) (domain.PurchaseOrder, domain.Receipt, error) {
	var order domain.PurchaseOrder
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		order, err = s.custody.CreatePO(ctx, tx, buyerCRN, sellerCRN, drugName, quantity)
		return err
	})
	return order, receipt, err
}

// CreateShipment ships serials against an existing order.
func (s *Service) CreateShipment(ctx context.Context, caller domain.Identity, buyerCRN, drugName string, serials []string, transporterCRN string) (domain.Shipment, domain.Receipt, error) {
	var shipment domain.Shipment
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		shipment, err = s.custody.CreateShipment(ctx, tx, buyerCRN, drugName, serials, transporterCRN)
		return err
	})
	return shipment, receipt, err
}

// UpdateShipment records delivery of a shipment.
func (s *Service) UpdateShipment(ctx context.Context, caller domain.Identity, buyerCRN, drugName, transporterCRN string) (domain.Shipment, domain.Receipt, error) {
	var shipment domain.Shipment
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		shipment, err = s.custody.UpdateShipment(ctx, tx, buyerCRN, drugName, transporterCRN)
		return err
	})
	return shipment, receipt, err
}

// RetailDrug sells a drug to a consumer.
func (s *Service) RetailDrug(ctx context.Context, caller domain.Identity, drugName, serialNo, retailerCRN, consumer string) (domain.Drug, domain.Receipt, error) {
	var drug domain.Drug
	receipt, err := s.store.RunInTransaction(ctx, caller, func(tx domain.TxContext) error {
		var err error
		drug, err = s.custody.RetailDrug(ctx, tx, drugName, serialNo, retailerCRN, consumer)
		return err
	})
	return drug, receipt, err
}

// ViewDrugCurrentState reads a drug through a read-only view.
func (s *Service) ViewDrugCurrentState(ctx context.Context, caller domain.Identity, name, serialNo string) (domain.Drug, error) {
	var drug domain.Drug
	err := s.store.View(ctx, caller, func(tx domain.TxContext) error {
		var err error
		drug, err = s.custody.ViewDrugCurrentState(ctx, tx, name, serialNo)
		return err
	})
	return drug, err
}

// ViewHistory returns the drug's history. Each range over the sequence opens
// a fresh read view, so the sequence can be consumed more than once.
func (s *Service) ViewHistory(ctx context.Context, caller domain.Identity, name, serialNo string) iter.Seq2[domain.DrugVersion, error] {
	return func(yield func(domain.DrugVersion, error) bool) {
		stopped := false
		err := s.store.View(ctx, caller, func(tx domain.TxContext) error {
			for v, err := range s.custody.ViewHistory(ctx, tx, name, serialNo) {
				if !yield(v, err) || err != nil {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(domain.DrugVersion{}, err)
		}
	}
}
