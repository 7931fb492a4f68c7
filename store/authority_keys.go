package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto/encryption"
)

// AuthorityKeyStore keeps the signing keys of the authorities this node produces
// blocks for. Keys are persisted under AuthorityKeyPrefix and cached in memory. With a
// non-empty passphrase the persisted form is sealed with AES-GCM.
type AuthorityKeyStore struct {
	keys       map[string]crypto.Signer
	mu         sync.RWMutex
	db         Store
	passphrase []byte
	logger     *zap.Logger
}

func NewAuthorityKeyStore(db Store, passphrase string, logger *zap.Logger) *AuthorityKeyStore {
	ks := &AuthorityKeyStore{
		keys:   make(map[string]crypto.Signer),
		db:     db,
		logger: logger,
	}
	if passphrase != "" {
		ks.passphrase = []byte(passphrase)
	}
	if err := ks.LoadKeys(); err != nil {
		logger.Warn("failed to load authority keys", zap.Error(err))
	}
	return ks
}

// LoadKeys replaces the in-memory key set with the persisted one. Entries that fail to
// decode are skipped.
func (ks *AuthorityKeyStore) LoadKeys() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	loaded := make(map[string]crypto.Signer)
	err := ks.db.Iterate([]byte(AuthorityKeyPrefix), func(key, value []byte) error {
		addr := strings.TrimPrefix(string(key), AuthorityKeyPrefix)
		if ks.passphrase != nil {
			opened, err := encryption.Open(ks.passphrase, value)
			if err != nil {
				ks.logger.Error("skipping sealed authority key", zap.String("address", addr), zap.Error(err))
				return nil
			}
			value = opened
		}
		signer, err := crypto.PrivateKeyFromBytes(value)
		if err != nil {
			ks.logger.Error("skipping undecodable authority key", zap.String("address", addr), zap.Error(err))
			return nil
		}
		if signer.Address() != addr {
			ks.logger.Error("authority key does not match its address", zap.String("address", addr))
			return nil
		}
		loaded[addr] = signer
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "iterate authority keys")
	}

	ks.keys = loaded
	ks.logger.Debug("authority keys loaded", zap.Int("count", len(loaded)))
	return nil
}

func (ks *AuthorityKeyStore) StoreKey(signer crypto.Signer) error {
	data, err := crypto.PrivateKeyBytes(signer)
	if err != nil {
		return errors.Wrapf(err, "marshal key for %s", signer.Address())
	}
	if ks.passphrase != nil {
		if data, err = encryption.Seal(ks.passphrase, data); err != nil {
			return errors.Wrapf(err, "seal key for %s", signer.Address())
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.db.Put(AuthorityKeyKey(signer.Address()), data); err != nil {
		return err
	}
	ks.keys[signer.Address()] = signer
	return nil
}

func (ks *AuthorityKeyStore) GetKey(addr string) (crypto.Signer, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	s, ok := ks.keys[addr]
	return s, ok
}

func (ks *AuthorityKeyStore) HasKey(addr string) bool {
	_, ok := ks.GetKey(addr)
	return ok
}

// Signers returns every known signer ordered by address.
func (ks *AuthorityKeyStore) Signers() []crypto.Signer {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	addrs := make([]string, 0, len(ks.keys))
	for a := range ks.keys {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	out := make([]crypto.Signer, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, ks.keys[a])
	}
	return out
}
