package gate

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Address is a decoded content address: an inclusive range of message IDs
// in the storage channel. Start == End addresses a single message.
type Address struct {
	Start int64
	End   int64
}

// Count returns the number of messages the address covers.
func (a Address) Count() int64 { return a.End - a.Start + 1 }

// MessageIDs expands the address into the individual message IDs it covers.
func (a Address) MessageIDs() []int {
	ids := make([]int, 0, a.Count())
	for id := a.Start; id <= a.End; id++ {
		ids = append(ids, int(id))
	}
	return ids
}

const addressOp = "get"

// EncodeAddress builds an opaque token for the message range [start, end].
// Message IDs are scaled by magnitude (the absolute storage-channel ID)
// before encoding. This is obfuscation, not access control: the magnitude is
// deployment-public, and confidentiality comes from the gate, not the token.
func EncodeAddress(start, end, magnitude int64) (string, error) {
	if magnitude <= 0 {
		return "", fmt.Errorf("magnitude must be positive, got %d", magnitude)
	}
	if start < 0 || start > end {
		return "", fmt.Errorf("%w: invalid range %d-%d", ErrInvalidAddress, start, end)
	}
	var plain string
	if start == end {
		plain = fmt.Sprintf("%s-%d", addressOp, start*magnitude)
	} else {
		plain = fmt.Sprintf("%s-%d-%d", addressOp, start*magnitude, end*magnitude)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(plain)), nil
}

// BatchFromFirst returns the address covering size messages starting at
// first.
func BatchFromFirst(first, size int64) (Address, error) {
	if size <= 0 {
		return Address{}, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidAddress, size)
	}
	return Address{Start: first, End: first + size - 1}, nil
}

// DecodeAddress reverses EncodeAddress. It fails with ErrInvalidAddress on a
// wrong operation tag, wrong segment count, non-integer segments, or an
// inverted range.
func DecodeAddress(token string, magnitude int64) (Address, error) {
	if magnitude <= 0 {
		return Address{}, fmt.Errorf("magnitude must be positive, got %d", magnitude)
	}
	plain, err := decodeBase64(token)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	parts := strings.Split(plain, "-")
	if parts[0] != addressOp {
		return Address{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidAddress, parts[0])
	}
	if len(parts) != 2 && len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: expected 2 or 3 segments, got %d", ErrInvalidAddress, len(parts))
	}
	start, err := decodeScaled(parts[1], magnitude)
	if err != nil {
		return Address{}, err
	}
	end := start
	if len(parts) == 3 {
		end, err = decodeScaled(parts[2], magnitude)
		if err != nil {
			return Address{}, err
		}
	}
	if start > end {
		return Address{}, fmt.Errorf("%w: inverted range %d-%d", ErrInvalidAddress, start, end)
	}
	return Address{Start: start, End: end}, nil
}

// EncodeChannel builds the single-value token used for per-channel
// join/request links.
func EncodeChannel(channelID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(channelID, 10)))
}

// DecodeChannel reverses EncodeChannel. Same failure rules as DecodeAddress.
func DecodeChannel(token string) (int64, error) {
	plain, err := decodeBase64(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	id, err := strconv.ParseInt(plain, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-integer channel token", ErrInvalidAddress)
	}
	return id, nil
}

// decodeBase64 accepts both stripped and padded url-safe base64.
func decodeBase64(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeScaled(segment string, magnitude int64) (int64, error) {
	scaled, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-integer segment %q", ErrInvalidAddress, segment)
	}
	return scaled / magnitude, nil
}
