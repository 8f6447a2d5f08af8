package fabric

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"

	"pharmanet/pkg/domain"
)

// fakeStub is a single-peer world state. Writes are buffered until commit, as
// on a real peer, and key history is reported newest first. Methods the
// adapter never calls are left to the embedded nil interface.
type fakeStub struct {
	shim.ChaincodeStubInterface

	state   map[string][]byte
	history map[string][]*queryresult.KeyModification
	pending map[string][]byte
	order   []string

	txID     string
	ts       time.Time
	seq      int
	scanErr  error
	histErr  error
	noTxTime bool
}

func newFakeStub() *fakeStub {
	return &fakeStub{
		state:   map[string][]byte{},
		history: map[string][]*queryresult.KeyModification{},
	}
}

func (s *fakeStub) begin() {
	s.seq++
	s.txID = fmt.Sprintf("fabric-tx-%d", s.seq)
	s.ts = time.Date(2024, 3, 1, 9, s.seq, 0, 0, time.UTC)
	s.pending = map[string][]byte{}
	s.order = nil
}

func (s *fakeStub) commit() {
	for _, key := range s.order {
		value := s.pending[key]
		s.state[key] = value
		mod := &queryresult.KeyModification{TxId: s.txID, Value: value, Timestamp: timestamppb.New(s.ts)}
		s.history[key] = append([]*queryresult.KeyModification{mod}, s.history[key]...)
	}
	s.pending = nil
	s.order = nil
}

func (s *fakeStub) GetTxID() string { return s.txID }

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	if s.noTxTime {
		return nil, nil
	}
	return timestamppb.New(s.ts), nil
}

func (s *fakeStub) GetState(key string) ([]byte, error) {
	return s.state[key], nil
}

func (s *fakeStub) PutState(key string, value []byte) error {
	if s.pending == nil {
		return errors.New("no transaction in progress")
	}
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = value
	return nil
}

func (s *fakeStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	prefix, err := domain.CompositeKey(objectType, keys...)
	if err != nil {
		return nil, err
	}
	var matched []string
	for k := range s.state {
		if strings.HasPrefix(k, string(prefix)) {
			matched = append(matched, k)
		}
	}
	slices.Sort(matched)
	it := &kvIterator{}
	for _, k := range matched {
		it.items = append(it.items, &queryresult.KV{Namespace: "pharmanet", Key: k, Value: s.state[k]})
	}
	return it, nil
}

func (s *fakeStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	if s.histErr != nil {
		return nil, s.histErr
	}
	return &historyIterator{items: slices.Clone(s.history[key])}, nil
}

type kvIterator struct {
	items  []*queryresult.KV
	closed bool
}

func (it *kvIterator) HasNext() bool { return len(it.items) > 0 }

func (it *kvIterator) Next() (*queryresult.KV, error) {
	if len(it.items) == 0 {
		return nil, errors.New("iterator exhausted")
	}
	kv := it.items[0]
	it.items = it.items[1:]
	return kv, nil
}

func (it *kvIterator) Close() error {
	it.closed = true
	return nil
}

type historyIterator struct {
	items []*queryresult.KeyModification
}

func (it *historyIterator) HasNext() bool { return len(it.items) > 0 }

func (it *historyIterator) Next() (*queryresult.KeyModification, error) {
	if len(it.items) == 0 {
		return nil, errors.New("iterator exhausted")
	}
	mod := it.items[0]
	it.items = it.items[1:]
	return mod, nil
}

func (it *historyIterator) Close() error { return nil }

// fakeIdentity is an X.509 client with a fixed MSP.
type fakeIdentity struct {
	cid.ClientIdentity
	id, msp string
}

func (i fakeIdentity) GetID() (string, error)    { return i.id, nil }
func (i fakeIdentity) GetMSPID() (string, error) { return i.msp, nil }

var (
	manufacturer = fakeIdentity{id: "x509::CN=admin@manufacturer", msp: "manufacturerMSP"}
	distributor  = fakeIdentity{id: "x509::CN=admin@distributor", msp: "distributorMSP"}
	retailer     = fakeIdentity{id: "x509::CN=admin@retailer", msp: "retailerMSP"}
	transporter  = fakeIdentity{id: "x509::CN=admin@transporter", msp: "transporterMSP"}
	consumer     = fakeIdentity{id: "x509::CN=user@consumer", msp: "consumerMSP"}
)

// invoke runs fn as one transaction by caller and commits its writes when it
// succeeds.
func invoke[T any](stub *fakeStub, caller cid.ClientIdentity, fn func(contractapi.TransactionContextInterface) (T, error)) (T, error) {
	stub.begin()
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(stub)
	ctx.SetClientIdentity(caller)
	out, err := fn(ctx)
	if err == nil {
		stub.commit()
	}
	return out, err
}
