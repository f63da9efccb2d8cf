package secrets

import (
	"encoding/hex"
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// appID scopes the machine-derived key to this program.
const appID = "kiwoom-core/secrets"

// MachineKey derives a 32 byte key from the host's machine id. The raw id
// never leaves machineid; only its HMAC under appID is used.
func MachineKey() ([]byte, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return nil, fmt.Errorf("machine id: %w", err)
	}
	key, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("decode machine id: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}
