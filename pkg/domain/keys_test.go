package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeKeyEncoding(t *testing.T) {
	key, err := CompositeKey("ns", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, Key("\x00ns\x00a\x00b\x00"), key)

	ns, attrs, err := key.Split()
	require.NoError(t, err)
	assert.Equal(t, "ns", ns)
	assert.Equal(t, []string{"a", "b"}, attrs)
	assert.Equal(t, "ns/a/b", key.String())
}

func TestCompositeKeyPrefixes(t *testing.T) {
	full, err := CompanyKey("M1", "Acme")
	require.NoError(t, err)
	prefix, err := CompositeKey(NamespaceCompany, "M1")
	require.NoError(t, err)
	other, err := CompanyKey("M10", "Other")
	require.NoError(t, err)

	assert.True(t, full.HasPrefix(prefix))
	assert.False(t, other.HasPrefix(prefix), "attribute boundaries must be respected")

	start, end := PrefixRange(prefix)
	assert.True(t, string(full) >= start && string(full) < end)
	assert.False(t, string(other) >= start && string(other) < end)
}

func TestCompositeKeyRejectsReservedInput(t *testing.T) {
	cases := [][]string{
		{""},
		{"a\x00b"},
		{"bad\xff"},
		{"x", string(rune(0x10FFFF))},
	}
	for _, attrs := range cases {
		_, err := CompositeKey("ns", attrs...)
		assert.True(t, errors.Is(err, ErrInvalidArgument), "%q", attrs)
	}
	_, err := CompositeKey("")
	assert.Error(t, err)
}

func TestSplitMalformed(t *testing.T) {
	_, _, err := Key("plain").Split()
	assert.Error(t, err)
	assert.Equal(t, "", Key("plain").Namespace())
	assert.Nil(t, Key("plain").Attributes())
}

func TestEntityKeysUseDeclaredAttributeOrder(t *testing.T) {
	po, err := PurchaseOrderKey("D1", "Paracetamol")
	require.NoError(t, err)
	ship, err := ShipmentKey("D1", "Paracetamol")
	require.NoError(t, err)
	drug, err := DrugKey("Paracetamol", "S1")
	require.NoError(t, err)

	assert.Equal(t, NamespacePurchaseOrder, po.Namespace())
	assert.Equal(t, po.Attributes(), ship.Attributes())
	assert.Equal(t, []string{"Paracetamol", "S1"}, drug.Attributes())
}
