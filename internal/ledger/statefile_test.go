package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardscope/internal/model"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFileStore(path)

	state := model.NewControllerState()
	state.SwapCursor = 1234
	state.TransferCursor = 1200
	state.CumulativeBuys["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = "1500000000000000000"
	state.MintedCache["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = true
	state.MintFailures["0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"] = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(state))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1234), loaded.SwapCursor)
	assert.Equal(t, uint64(1200), loaded.TransferCursor)
	assert.Equal(t, "1500000000000000000", loaded.CumulativeBuys["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"])
	assert.True(t, loaded.MintedCache["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"])
	assert.False(t, loaded.MintFailures["0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"].IsZero())
	assert.NotEmpty(t, loaded.UpdatedAt)
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	state, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(0), state.SwapCursor)
	assert.NotNil(t, state.CumulativeBuys)
	assert.NotNil(t, state.MintedCache)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(model.NewControllerState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

// The JSON field names are shared with external tooling that reads the state
// file directly.
func TestStateFileFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	state := model.NewControllerState()
	state.SwapCursor = 7
	state.CumulativeBuys["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = "42"
	state.MintedCache["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = true
	require.NoError(t, store.Save(state))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "swapCursor")
	assert.Contains(t, doc, "cumulativeBuys")
	assert.Contains(t, doc, "mintedCache")
}
