package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-contract-api-go/metadata"

	"pharmanet/internal/core"
	"pharmanet/pkg/domain"
	"pharmanet/pkg/logger"
)

// ContractName is the namespace under which the custody transactions are
// registered. contractapi names transactions after the exported methods, so
// clients invoke org.pharma-network.pharmanet:AddDrug, :CreateShipment and
// so on.
const ContractName = "org.pharma-network.pharmanet"

// Contract exposes custody operations as chaincode transactions. Records are
// returned as JSON strings in their ledger encoding.
type Contract struct {
	contractapi.Contract
	custody *core.Custody
	log     *logger.Logger
}

// NewContract builds the chaincode contract around custody.
func NewContract(custody *core.Custody, log *logger.Logger, version string) *Contract {
	if custody == nil {
		custody = core.NewCustody()
	}
	if log == nil {
		log = logger.Nop()
	}
	if version == "" {
		version = "latest"
	}
	c := &Contract{custody: custody, log: log.Component("contract")}
	c.Name = ContractName
	c.Info = metadata.InfoMetadata{
		Title:   "pharmanet custody",
		Version: version,
	}
	return c
}

func (c *Contract) txContext(ctx contractapi.TransactionContextInterface) *TxContext {
	return NewTxContext(ctx.GetStub(), ctx.GetClientIdentity())
}

func encode(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(raw), nil
}

// Instantiate runs when the chaincode is first committed. There is no
// ledger state to seed.
func (c *Contract) Instantiate(ctx contractapi.TransactionContextInterface) error {
	c.log.Info().Str("tx_id", ctx.GetStub().GetTxID()).Msg("pharmanet contract instantiated")
	return nil
}

// RegisterCompany records a new company.
func (c *Contract) RegisterCompany(ctx contractapi.TransactionContextInterface, crn, name, location, role string) (string, error) {
	return encode(c.custody.RegisterCompany(context.Background(), c.txContext(ctx), crn, name, location, role))
}

// AddDrug mints a drug unit owned by its manufacturer.
func (c *Contract) AddDrug(ctx contractapi.TransactionContextInterface, name, serialNo, mfgDate, expDate, manufacturerCRN string) (string, error) {
	return encode(c.custody.AddDrug(context.Background(), c.txContext(ctx), name, serialNo, mfgDate, expDate, manufacturerCRN))
}

// CreatePO records a purchase order from buyer to seller.
func (c *Contract) CreatePO(ctx contractapi.TransactionContextInterface, buyerCRN, sellerCRN, drugName string, quantity int) (string, error) {
	return encode(c.custody.CreatePO(context.Background(), c.txContext(ctx), buyerCRN, sellerCRN, drugName, quantity))
}

// CreateShipment ships a comma separated list of serials against an order.
func (c *Contract) CreateShipment(ctx contractapi.TransactionContextInterface, buyerCRN, drugName, listOfAssets, transporterCRN string) (string, error) {
	return encode(c.custody.CreateShipment(context.Background(), c.txContext(ctx), buyerCRN, drugName, core.SplitAssets(listOfAssets), transporterCRN))
}

// UpdateShipment records delivery of a shipment to its buyer.
func (c *Contract) UpdateShipment(ctx contractapi.TransactionContextInterface, buyerCRN, drugName, transporterCRN string) (string, error) {
	return encode(c.custody.UpdateShipment(context.Background(), c.txContext(ctx), buyerCRN, drugName, transporterCRN))
}

// RetailDrug sells a drug to a consumer.
func (c *Contract) RetailDrug(ctx contractapi.TransactionContextInterface, drugName, serialNo, retailerCRN, customerAadhar string) (string, error) {
	return encode(c.custody.RetailDrug(context.Background(), c.txContext(ctx), drugName, serialNo, retailerCRN, customerAadhar))
}

// ViewDrugCurrentState returns the current record of a drug.
func (c *Contract) ViewDrugCurrentState(ctx contractapi.TransactionContextInterface, drugName, serialNo string) (string, error) {
	return encode(c.custody.ViewDrugCurrentState(context.Background(), c.txContext(ctx), drugName, serialNo))
}

// ViewHistory returns every committed version of a drug, oldest first.
func (c *Contract) ViewHistory(ctx contractapi.TransactionContextInterface, drugName, serialNo string) (string, error) {
	versions, err := core.CollectHistory(c.custody.ViewHistory(context.Background(), c.txContext(ctx), drugName, serialNo))
	if versions == nil {
		versions = []domain.DrugVersion{}
	}
	return encode(versions, err)
}
