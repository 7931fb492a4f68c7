package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an authority signing key",
	Long: `Generate an ML-DSA-44 authority key and store it in the node's data directory.
The node signs blocks with every stored key once the authority is registered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.InMemory {
			return errors.New("keygen needs a persistent data dir")
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		signer, err := crypto.NewPrivateKey()
		if err != nil {
			return errors.Wrap(err, "generate key")
		}
		keys := store.NewAuthorityKeyStore(db, cfg.KeyPassphrase, zap.NewNop())
		if err := keys.StoreKey(signer); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "address:    %s\n", signer.Address())
		fmt.Fprintf(out, "public key: %s\n", hex.EncodeToString(signer.PublicKey()))
		return nil
	},
}
