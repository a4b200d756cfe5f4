package icrypto

import (
	"encoding/binary"
)

const (
	aadStorage   = "STORAGE"
	aadRecordMAC = "RECORDMAC"
)

// AADStorageValue binds a sealed storage value to the key it is stored under,
// so envelopes cannot be swapped between keys.
func AADStorageValue(key string, ver int) []byte {
	return buildAAD(aadStorage, ver, []byte(key))
}

// AADRecordMAC is the MAC input for an encrypted key record.
func AADRecordMAC(iv, cipherText []byte, ver int) []byte {
	return buildAAD(aadRecordMAC, ver, iv, cipherText)
}

// buildAAD length-prefixes every field and appends the version last, so no
// two distinct field lists encode to the same bytes.
func buildAAD(domain string, ver int, fields ...[]byte) []byte {
	res := appendField(nil, []byte(domain))
	for _, f := range fields {
		res = appendField(res, f)
	}
	return binary.BigEndian.AppendUint32(res, uint32(ver))
}

func appendField(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
