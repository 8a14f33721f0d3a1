package oracle

import (
	"encoding/binary"
	"fmt"
)

// DataKey tags the persisted state entries. The numeric values are part of
// the raw storage layout and must not be reordered.
type DataKey byte

const (
	KeyInitialized DataKey = iota + 1
	KeyContractOwner
	KeyEpochData
	KeyRelayer
	KeyContinuityRequirement
	KeyThreshold
	KeyContinuity
	KeyLatestUpdate
	KeyToken
	KeyRecipient
	KeyEpochDuration
)

var keyNames = map[DataKey]string{
	KeyInitialized:           "Initialized",
	KeyContractOwner:         "ContractOwner",
	KeyEpochData:             "EpochData",
	KeyRelayer:               "Relayer",
	KeyContinuityRequirement: "ContinuityRequirement",
	KeyThreshold:             "Threshold",
	KeyContinuity:            "Continuity",
	KeyLatestUpdate:          "LatestUpdate",
	KeyToken:                 "Token",
	KeyRecipient:             "Recipient",
	KeyEpochDuration:         "EpochDuration",
}

func (k DataKey) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DataKey(%d)", byte(k))
}

// Bytes returns the storage key of a scalar entry.
func (k DataKey) Bytes() []byte {
	return []byte{byte(k)}
}

// EpochDataKey returns the storage key holding the value reported for epoch.
// The big-endian suffix keeps records ordered by epoch under a byte-wise scan.
func EpochDataKey(epoch uint32) []byte {
	key := make([]byte, 5)
	key[0] = byte(KeyEpochData)
	binary.BigEndian.PutUint32(key[1:], epoch)
	return key
}

// ParseEpochDataKey extracts the epoch from an EpochData key.
func ParseEpochDataKey(key []byte) (uint32, bool) {
	if len(key) != 5 || DataKey(key[0]) != KeyEpochData {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[1:]), true
}
