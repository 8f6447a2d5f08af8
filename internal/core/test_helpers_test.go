package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pharmanet/internal/infra/persistence/memory"
	"pharmanet/pkg/domain"
)

var (
	manufacturerAdmin = domain.LocalIdentity{ID: "x509::CN=admin@manufacturer", MSPID: "manufacturerMSP"}
	distributorAdmin  = domain.LocalIdentity{ID: "x509::CN=admin@distributor", MSPID: "distributorMSP"}
	retailerAdmin     = domain.LocalIdentity{ID: "x509::CN=admin@retailer", MSPID: "retailerMSP"}
	transporterAdmin  = domain.LocalIdentity{ID: "x509::CN=admin@transporter", MSPID: "transporterMSP"}
	consumerUser      = domain.LocalIdentity{ID: "x509::CN=user@consumer", MSPID: "consumerMSP"}
	strangerAdmin     = domain.LocalIdentity{ID: "x509::CN=admin@elsewhere", MSPID: "elsewhereMSP"}
)

var ledgerEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fixture is a service over a deterministic in-memory ledger: transaction
// ids count up from tx-1 and each transaction is one minute after the last.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store *memory.Store

	mu  sync.Mutex
	seq int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background()}
	f.store = memory.NewStore(
		memory.WithTxIDs(func() string {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.seq++
			return fmt.Sprintf("tx-%d", f.seq)
		}),
		memory.WithClock(func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return ledgerEpoch.Add(time.Duration(f.seq) * time.Minute)
		}),
	)
	f.svc = NewService(f.store, NewCustody(opts...))
	return f
}

func (f *fixture) registerAll() {
	f.t.Helper()
	for _, c := range []struct {
		caller                    domain.Identity
		crn, name, location, role string
	}{
		{manufacturerAdmin, "MAN001", "Acme", "Mumbai", "Manufacturer"},
		{distributorAdmin, "DIST001", "DistCo", "Delhi", "Distributor"},
		{transporterAdmin, "TRA001", "FastShip", "Pune", "Transporter"},
		{retailerAdmin, "RET001", "Pharm", "Bengaluru", "Retailer"},
	} {
		_, _, err := f.svc.RegisterCompany(f.ctx, c.caller, c.crn, c.name, c.location, c.role)
		require.NoError(f.t, err)
	}
}

func (f *fixture) mint(serials ...string) {
	f.t.Helper()
	for _, serial := range serials {
		_, _, err := f.svc.AddDrug(f.ctx, manufacturerAdmin, "Paracetamol", serial, "2024-01-01", "2026-01-01", "MAN001")
		require.NoError(f.t, err)
	}
}

// deliverToDistributor runs order, shipment and delivery of serials from
// Acme to DistCo.
func (f *fixture) deliverToDistributor(serials ...string) {
	f.t.Helper()
	_, _, err := f.svc.CreatePO(f.ctx, distributorAdmin, "DIST001", "MAN001", "Paracetamol", len(serials))
	require.NoError(f.t, err)
	_, _, err = f.svc.CreateShipment(f.ctx, manufacturerAdmin, "DIST001", "Paracetamol", serials, "TRA001")
	require.NoError(f.t, err)
	_, _, err = f.svc.UpdateShipment(f.ctx, transporterAdmin, "DIST001", "Paracetamol", "TRA001")
	require.NoError(f.t, err)
}

// deliverToRetailer runs order, shipment and delivery of serials from DistCo
// to Pharm.
func (f *fixture) deliverToRetailer(serials ...string) {
	f.t.Helper()
	_, _, err := f.svc.CreatePO(f.ctx, retailerAdmin, "RET001", "DIST001", "Paracetamol", len(serials))
	require.NoError(f.t, err)
	_, _, err = f.svc.CreateShipment(f.ctx, distributorAdmin, "RET001", "Paracetamol", serials, "TRA001")
	require.NoError(f.t, err)
	_, _, err = f.svc.UpdateShipment(f.ctx, transporterAdmin, "RET001", "Paracetamol", "TRA001")
	require.NoError(f.t, err)
}

func (f *fixture) drug(serial string) domain.Drug {
	f.t.Helper()
	d, err := f.svc.ViewDrugCurrentState(f.ctx, manufacturerAdmin, "Paracetamol", serial)
	require.NoError(f.t, err)
	return d
}

func mustKey(t *testing.T) func(domain.Key, error) domain.Key {
	t.Helper()
	return func(k domain.Key, err error) domain.Key {
		t.Helper()
		require.NoError(t, err)
		return k
	}
}

func companyKey(t *testing.T, crn, name string) domain.Key {
	t.Helper()
	return mustKey(t)(domain.CompanyKey(crn, name))
}

var (
	acme     = func(t *testing.T) domain.Key { return companyKey(t, "MAN001", "Acme") }
	distCo   = func(t *testing.T) domain.Key { return companyKey(t, "DIST001", "DistCo") }
	fastShip = func(t *testing.T) domain.Key { return companyKey(t, "TRA001", "FastShip") }
	pharm    = func(t *testing.T) domain.Key { return companyKey(t, "RET001", "Pharm") }
)
