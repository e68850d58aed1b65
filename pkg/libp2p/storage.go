package libp2p

import (
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
)

const identityFileName = "identity.key"

// SaveIdentity saves the private key to the data directory.
func SaveIdentity(key crypto.PrivKey, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}

	keyBytes, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, identityFileName), keyBytes, 0600)
}

// LoadIdentity loads the libp2p private key from the data directory.
// If the key doesn't exist, it generates a new one and saves it. The key is
// separate from the short room code, which lives in the identity provider.
func LoadIdentity(dataDir string) (crypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, identityFileName)

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			privKey, _, err := crypto.GenerateEd25519Key(nil)
			if err != nil {
				return nil, err
			}
			if err := SaveIdentity(privKey, dataDir); err != nil {
				return nil, err
			}
			return privKey, nil
		}
		return nil, err
	}

	return crypto.UnmarshalPrivateKey(keyBytes)
}
