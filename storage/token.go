package storage

import (
	"encoding/base64"
	"encoding/binary"
)

// invalidTokenError reports a malformed page token or one issued to another user.
type invalidTokenError struct{ reason string }

func (e invalidTokenError) Error() string { return "invalid continuation token: " + e.reason }

// InvalidContinuationToken marks the error for the HTTP layer.
func (invalidTokenError) InvalidContinuationToken() {}

// encodeContinuationToken packs the partition and row key the next page
// starts after.
func encodeContinuationToken(partitionKey, rowKey string) string {
	if partitionKey == "" || rowKey == "" {
		return ""
	}
	pk := []byte(partitionKey)
	rk := []byte(rowKey)
	data := make([]byte, 8+len(pk)+len(rk))
	binary.BigEndian.PutUint32(data[0:4], uint32(len(pk)))
	binary.BigEndian.PutUint32(data[4:8], uint32(len(rk)))
	copy(data[8:], pk)
	copy(data[8+len(pk):], rk)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeContinuationToken(token string) (string, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", invalidTokenError{reason: "not base64"}
	}
	if len(data) < 8 {
		return "", "", invalidTokenError{reason: "too short"}
	}
	pkLen := int(binary.BigEndian.Uint32(data[0:4]))
	rkLen := int(binary.BigEndian.Uint32(data[4:8]))
	if pkLen == 0 || rkLen == 0 || pkLen+rkLen != len(data)-8 {
		return "", "", invalidTokenError{reason: "bad length"}
	}
	return string(data[8 : 8+pkLen]), string(data[8+pkLen:]), nil
}
