package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanet/internal/blob/core"
)

func TestReturnedValuesAreCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	meta := map[string]string{"height": "1"}
	_, err := store.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: meta})
	require.NoError(t, err)
	meta["height"] = "changed"

	info, body, err := store.Get(ctx, "k")
	require.NoError(t, err)
	info.Metadata["height"] = "mutated"
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	raw[0] = 'X'

	again, body, err := store.Get(ctx, "k")
	require.NoError(t, err)
	raw, err = io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Metadata["height"])
	assert.Equal(t, "abc", string(raw))
}

func TestConcurrentPutsOfOneKey(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Put(context.Background(), "ledger/k", bytes.NewReader([]byte{byte(i)}), core.PutOptions{})
		}()
	}
	wg.Wait()

	stored := 0
	for _, err := range errs {
		if err == nil {
			stored++
			continue
		}
		assert.ErrorIs(t, err, core.ErrExists)
	}
	assert.Equal(t, 1, stored)
}

func TestEmptyKeyRejected(t *testing.T) {
	_, err := New().Put(context.Background(), "", bytes.NewReader(nil), core.PutOptions{})
	require.Error(t, err)
}
