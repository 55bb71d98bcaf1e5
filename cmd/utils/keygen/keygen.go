// Keygen generates the two key pairs a validator needs: the Ed25519
// transport identity and the secp256k1 consensus signing key. Output is
// ready to paste into the node configuration.
package main

import (
	"flag"
	"fmt"
	"os"

	"dbft-federation/internal/keys"
)

func main() {
	count := flag.Int("n", 1, "number of validator key sets to generate")
	flag.Parse()

	keyManager := keys.NewKeyManager()

	for i := 0; i < *count; i++ {
		transportKey, err := keyManager.GeneratePrivateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate transport key: %v\n", err)
			os.Exit(1)
		}
		transportPub, err := keyManager.GetPublicKey(transportKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to derive transport public key: %v\n", err)
			os.Exit(1)
		}

		consensusKey, err := keyManager.GenerateConsensusKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate consensus key: %v\n", err)
			os.Exit(1)
		}
		consensusPub, err := keyManager.GetConsensusPublicKey(consensusKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to derive consensus public key: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("# validator %d\n", i)
		fmt.Printf("node:\n")
		fmt.Printf("  private_key: %s\n", transportKey)
		fmt.Printf("  consensus_private_key: %s\n", consensusKey)
		fmt.Printf("# transport public key: %s\n", transportPub)
		fmt.Printf("# consensus public key (add to consensus.validator_keys): %s\n", consensusPub)
		fmt.Println()
	}
}
