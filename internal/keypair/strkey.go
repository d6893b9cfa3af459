package keypair

import (
	"fmt"

	"github.com/stellar/go-stellar-sdk/strkey"
)

// versionByte selects the leading character of an encoded key.
type versionByte = strkey.VersionByte

const (
	versionAccountID = strkey.VersionByteAccountID // G...
	versionSeed      = strkey.VersionByteSeed      // S...
)

func encodeCheck(version versionByte, payload []byte) string {
	return strkey.MustEncode(version, payload)
}

func decodeCheck(expected versionByte, src string) ([]byte, error) {
	raw, err := strkey.Decode(expected, src)
	if err != nil {
		return nil, err
	}
	if len(raw) != payloadSize {
		return nil, fmt.Errorf("invalid length %d", len(raw))
	}
	return raw, nil
}

func decodeCheckBytes(expected versionByte, src []byte) ([]byte, error) {
	return decodeCheck(expected, string(src))
}
