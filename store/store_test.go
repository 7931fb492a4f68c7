package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem, err := NewInMemoryDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"badger":          db,
		"badger-inmemory": mem,
		"memory":          NewMemoryStore(),
	}
}

func TestStoreGetPut(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get([]byte("missing"))
			assert.True(t, errors.Is(err, types.ErrNotFound))

			require.NoError(t, s.Put([]byte("k"), []byte("v")))
			v, err := s.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)
		})
	}
}

func TestStoreIterateOrdersByHeight(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, h := range []uint64{300, 2, 256, 0, 1} {
				require.NoError(t, s.Put(BlockHeightKey(h), []byte{byte(h)}))
			}
			require.NoError(t, s.Put([]byte(TipKey), []byte("tip")))

			var seen []byte
			err := s.Iterate([]byte(BlockHeightPrefix), func(_, value []byte) error {
				seen = append(seen, value[0])
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2, byte(256 % 256), byte(300 % 256)}, seen)
		})
	}
}

func TestStoreWriteBatch(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put([]byte("old"), []byte("x")))

			b := NewBatch()
			b.Put([]byte("a"), []byte("1"))
			b.Put([]byte("b"), []byte("2"))
			b.Delete([]byte("old"))
			require.NoError(t, s.Write(b))

			v, err := s.Get([]byte("b"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), v)
			_, err = s.Get([]byte("old"))
			assert.True(t, errors.Is(err, types.ErrNotFound))
		})
	}
}

func TestIterateStopsOnError(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put([]byte("p-1"), nil))
	require.NoError(t, s.Put([]byte("p-2"), nil))

	stop := errors.New("stop")
	calls := 0
	err := s.Iterate([]byte("p-"), func(_, _ []byte) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestCountingStore(t *testing.T) {
	c := NewCountingStore(NewMemoryStore())
	require.NoError(t, c.Put([]byte("a"), []byte("1")))
	_, _ = c.Get([]byte("a"))

	b := NewBatch()
	b.Put([]byte("b"), nil)
	b.Put([]byte("c"), nil)
	require.NoError(t, c.Write(b))

	assert.Equal(t, uint64(4), c.Ops())
}

func TestLRUCache(t *testing.T) {
	c, err := NewLRUCache[int](2, 100, 0.01)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	assert.True(t, c.MayContain("a"))

	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	c.Remember("d")
	_, ok = c.Get("d")
	assert.False(t, ok)
	assert.True(t, c.MayContain("d"))
	assert.False(t, c.MayContain("never"))
}

func TestAuthorityKeyStore(t *testing.T) {
	db := NewMemoryStore()
	ks := NewAuthorityKeyStore(db, "", zap.NewNop())

	signer, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, ks.StoreKey(signer))
	assert.True(t, ks.HasKey(signer.Address()))

	reloaded := NewAuthorityKeyStore(db, "", zap.NewNop())
	got, ok := reloaded.GetKey(signer.Address())
	require.True(t, ok)
	assert.Equal(t, signer.PublicKey(), got.PublicKey())
	assert.Len(t, reloaded.Signers(), 1)
}

func TestAuthorityKeyStoreSealed(t *testing.T) {
	db := NewMemoryStore()
	ks := NewAuthorityKeyStore(db, "hunter2", zap.NewNop())

	signer, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	require.NoError(t, ks.StoreKey(signer))

	raw, err := db.Get(AuthorityKeyKey(signer.Address()))
	require.NoError(t, err)
	plain, err := crypto.PrivateKeyBytes(signer)
	require.NoError(t, err)
	assert.NotEqual(t, plain, raw)

	reloaded := NewAuthorityKeyStore(db, "hunter2", zap.NewNop())
	assert.True(t, reloaded.HasKey(signer.Address()))

	wrong := NewAuthorityKeyStore(db, "wrong", zap.NewNop())
	assert.False(t, wrong.HasKey(signer.Address()))
	assert.Empty(t, wrong.Signers())
}

func TestDatabaseDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDatabase(dir)
	require.NoError(t, err)

	_, err = NewDatabase(dir)
	assert.True(t, errors.Is(err, types.ErrStorage))

	require.NoError(t, db.Close())
	again, err := NewDatabase(dir)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
