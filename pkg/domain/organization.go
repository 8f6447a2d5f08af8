package domain

import (
	"fmt"
	"strings"
)

// Organization is the network organisation a caller belongs to, derived from
// its MSP id. It decides which operations a caller may invoke.
type Organization uint8

// Network organisations.
const (
	OrgUnknown Organization = iota
	OrgManufacturer
	OrgDistributor
	OrgRetailer
	OrgTransporter
	OrgConsumer
)

var orgNames = map[Organization]string{
	OrgManufacturer: "manufacturer",
	OrgDistributor:  "distributor",
	OrgRetailer:     "retailer",
	OrgTransporter:  "transporter",
	OrgConsumer:     "consumer",
}

func (o Organization) String() string {
	if name, ok := orgNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOrganization resolves an organisation name such as "retailer".
func ParseOrganization(s string) (Organization, error) {
	for org, name := range orgNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return org, nil
		}
	}
	return OrgUnknown, &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("unrecognised organisation %q", s)}
}

// Role returns the company role members of the organisation register as.
// Consumers hold no role.
func (o Organization) Role() (Role, bool) {
	switch o {
	case OrgManufacturer:
		return RoleManufacturer, true
	case OrgDistributor:
		return RoleDistributor, true
	case OrgRetailer:
		return RoleRetailer, true
	case OrgTransporter:
		return RoleTransporter, true
	default:
		return RoleUnknown, false
	}
}

// OrganizationFor returns the organisation whose members hold role r.
func OrganizationFor(r Role) Organization {
	switch r {
	case RoleManufacturer:
		return OrgManufacturer
	case RoleDistributor:
		return OrgDistributor
	case RoleRetailer:
		return OrgRetailer
	case RoleTransporter:
		return OrgTransporter
	default:
		return OrgUnknown
	}
}

// DefaultMSPs are the MSP ids of the reference network.
var DefaultMSPs = map[Organization]string{
	OrgManufacturer: "manufacturerMSP",
	OrgDistributor:  "distributorMSP",
	OrgRetailer:     "retailerMSP",
	OrgTransporter:  "transporterMSP",
	OrgConsumer:     "consumerMSP",
}

// OrgDirectory maps MSP ids to organisations.
type OrgDirectory struct {
	byMSP map[string]Organization
	byOrg map[Organization]string
}

// NewOrgDirectory builds a directory from an organisation to MSP id mapping.
// Each MSP id may belong to exactly one organisation.
func NewOrgDirectory(msps map[Organization]string) (OrgDirectory, error) {
	dir := OrgDirectory{
		byMSP: make(map[string]Organization, len(msps)),
		byOrg: make(map[Organization]string, len(msps)),
	}
	for org, msp := range msps {
		if _, ok := orgNames[org]; !ok {
			return OrgDirectory{}, &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("unknown organisation %d", uint8(org))}
		}
		if msp == "" {
			return OrgDirectory{}, &Error{Kind: KindInvalidArgument, Detail: "empty MSP id for " + org.String()}
		}
		if other, dup := dir.byMSP[msp]; dup {
			return OrgDirectory{}, &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("MSP id %s assigned to both %s and %s", msp, other, org)}
		}
		dir.byMSP[msp] = org
		dir.byOrg[org] = msp
	}
	return dir, nil
}

// DefaultOrgDirectory returns the directory of the reference network.
func DefaultOrgDirectory() OrgDirectory {
	dir, err := NewOrgDirectory(DefaultMSPs)
	if err != nil {
		panic(err)
	}
	return dir
}

// Resolve maps an MSP id to its organisation. Unknown MSPs are unauthorized.
func (d OrgDirectory) Resolve(mspID string) (Organization, error) {
	org, ok := d.byMSP[mspID]
	if !ok {
		return OrgUnknown, &Error{Kind: KindUnauthorized, Detail: fmt.Sprintf("MSP %q is not a member of the network", mspID)}
	}
	return org, nil
}

// MSP returns the MSP id configured for org.
func (d OrgDirectory) MSP(org Organization) string {
	return d.byOrg[org]
}
