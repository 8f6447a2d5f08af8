package core

import (
	"go/types"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

// TestPersistentStoreImplementationsHardening ensures only sanctioned
// persistence packages provide concrete domain.PersistentStore
// implementations. Adding a backend elsewhere requires updating the list.
func TestPersistentStoreImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "pharmanet/...")
	require.NoError(t, err, "load packages")

	var persistentStore *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "pharmanet/pkg/domain" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("PersistentStore")
		require.NotNil(t, obj, "domain.PersistentStore not found")
		iface, ok := obj.Type().Underlying().(*types.Interface)
		require.True(t, ok, "domain.PersistentStore is not an interface")
		persistentStore = iface
	}
	require.NotNil(t, persistentStore, "failed to resolve PersistentStore interface")

	allowed := map[string]struct{}{
		"pharmanet/internal/infra/persistence/memory":   {},
		"pharmanet/internal/infra/persistence/sqlite":   {},
		"pharmanet/internal/infra/persistence/postgres": {},
		"pharmanet/internal/infra/persistence/leveldb":  {},
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isStruct := named.Underlying().(*types.Struct); !isStruct {
				continue
			}
			if types.Implements(types.NewPointer(named), persistentStore) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	require.Empty(t, unexpected, "unexpected PersistentStore implementations; update the allowed list when adding a backend")
}
