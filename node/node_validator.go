package node

import (
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
)

// AddAuthorityKey persists signer so this node can produce blocks on its behalf.
func (n *Node) AddAuthorityKey(signer crypto.Signer) error {
	return n.keys.StoreKey(signer)
}

// LocalAuthorities returns the addresses this node holds signing keys for.
func (n *Node) LocalAuthorities() []string {
	signers := n.keys.Signers()
	out := make([]string, len(signers))
	for i, s := range signers {
		out[i] = s.Address()
	}
	return out
}

// IsActiveAuthority reports whether addr is registered and not deactivated.
func (n *Node) IsActiveAuthority(addr string) bool {
	a, ok := n.engine.Registry().Get(addr)
	return ok && a.Active
}

// localProducer picks the local key that may produce height, preferring the authority
// whose turn it currently is.
func (n *Node) localProducer(height uint64) crypto.Signer {
	if id, err := n.engine.ExpectedAuthority(height); err == nil {
		if s, ok := n.keys.GetKey(id); ok {
			return s
		}
	}
	for _, s := range n.keys.Signers() {
		if n.engine.IsAuthorized(s.Address(), height) {
			return s
		}
	}
	return nil
}
