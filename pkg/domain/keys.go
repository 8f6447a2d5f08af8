package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	compositeKeyNamespace = "\x00"
	keySeparator          = "\x00"
	// maxUnicodeRune is the exclusive upper bound of a prefix range scan.
	maxUnicodeRune = utf8.MaxRune
)

// Key is the canonical encoding of a namespace and an ordered attribute list.
// The layout matches Fabric composite keys:
//
//	U+0000 namespace U+0000 attr1 U+0000 ... attrN U+0000
//
// so a key built from a prefix of the attributes is a byte prefix of every
// key that shares those attributes.
type Key string

// CompositeKey builds the key for namespace and attrs. Every part must be
// valid UTF-8, non-empty, and free of U+0000 and U+10FFFF.
func CompositeKey(namespace string, attrs ...string) (Key, error) {
	if err := validateKeyPart("namespace", namespace); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(compositeKeyNamespace)
	b.WriteString(namespace)
	b.WriteString(keySeparator)
	for i, attr := range attrs {
		if err := validateKeyPart(fmt.Sprintf("attribute %d", i), attr); err != nil {
			return "", err
		}
		b.WriteString(attr)
		b.WriteString(keySeparator)
	}
	return Key(b.String()), nil
}

func validateKeyPart(label, part string) error {
	if part == "" {
		return &Error{Kind: KindInvalidArgument, Detail: label + " must not be empty"}
	}
	if !utf8.ValidString(part) {
		return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("%s %q is not valid UTF-8", label, part)}
	}
	for _, r := range part {
		if r == 0 || r == maxUnicodeRune {
			return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("%s %q contains a reserved rune", label, part)}
		}
	}
	return nil
}

// Split decodes a composite key into its namespace and attributes.
func (k Key) Split() (string, []string, error) {
	s := string(k)
	if !strings.HasPrefix(s, compositeKeyNamespace) || !strings.HasSuffix(s, keySeparator) || len(s) < 3 {
		return "", nil, &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf("malformed composite key %q", s)}
	}
	parts := strings.Split(s[1:len(s)-1], keySeparator)
	return parts[0], parts[1:], nil
}

// Namespace returns the namespace component, or "" for a malformed key.
func (k Key) Namespace() string {
	ns, _, err := k.Split()
	if err != nil {
		return ""
	}
	return ns
}

// Attributes returns the attribute components, or nil for a malformed key.
func (k Key) Attributes() []string {
	_, attrs, err := k.Split()
	if err != nil {
		return nil
	}
	return attrs
}

// String renders the key with printable separators for logs and errors.
func (k Key) String() string {
	ns, attrs, err := k.Split()
	if err != nil {
		return strings.ReplaceAll(string(k), keySeparator, "/")
	}
	if len(attrs) == 0 {
		return ns
	}
	return ns + "/" + strings.Join(attrs, "/")
}

// HasPrefix reports whether k lies inside the range of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(string(k), string(prefix))
}

// PrefixRange returns the half-open [start, end) range covering every key
// that extends prefix.
func PrefixRange(prefix Key) (start, end string) {
	return string(prefix), string(prefix) + string(maxUnicodeRune)
}

// CompanyKey is the key of a company record.
func CompanyKey(crn, name string) (Key, error) {
	return CompositeKey(NamespaceCompany, crn, name)
}

// DrugKey is the key of a drug record.
func DrugKey(name, serialNo string) (Key, error) {
	return CompositeKey(NamespaceDrug, name, serialNo)
}

// PurchaseOrderKey is the key of a purchase order.
func PurchaseOrderKey(buyerCRN, drugName string) (Key, error) {
	return CompositeKey(NamespacePurchaseOrder, buyerCRN, drugName)
}

// ShipmentKey is the key of a shipment. It shares its attributes with the
// purchase order it fulfils.
func ShipmentKey(buyerCRN, drugName string) (Key, error) {
	return CompositeKey(NamespaceShipment, buyerCRN, drugName)
}
