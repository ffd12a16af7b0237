package wallet

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned for input that is neither a raw nor a
// user-friendly TON address.
var ErrInvalidAddress = errors.New("invalid wallet address")

const (
	friendlyLength  = 48
	friendlyBytes   = 36
	tagBounceable   = 0x11
	tagNonBounce    = 0x51
	tagTestnetFlag  = 0x80
	crc16Polynomial = 0x1021
)

var rawAddressPattern = regexp.MustCompile(`^(-?\d{1,3}):([0-9a-fA-F]{64})$`)

// NormalizeAddress validates a TON address and returns its raw form
// "<workchain>:<hex account id>" in lower case.
func NormalizeAddress(input string) (string, error) {
	addr := strings.TrimSpace(input)
	if addr == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if m := rawAddressPattern.FindStringSubmatch(addr); m != nil {
		workchain, err := strconv.ParseInt(m[1], 10, 8)
		if err != nil {
			return "", fmt.Errorf("%w: workchain %s out of range", ErrInvalidAddress, m[1])
		}
		return formatRaw(int8(workchain), strings.ToLower(m[2])), nil
	}

	if len(addr) != friendlyLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	data, err := decodeFriendly(addr)
	if err != nil {
		return "", err
	}

	return formatRaw(int8(data[1]), hex.EncodeToString(data[2:34])), nil
}

func decodeFriendly(addr string) ([]byte, error) {
	encoding := base64.RawURLEncoding
	if strings.ContainsAny(addr, "+/") {
		encoding = base64.RawStdEncoding
	}

	data, err := encoding.DecodeString(addr)
	if err != nil || len(data) != friendlyBytes {
		return nil, fmt.Errorf("%w: malformed encoding", ErrInvalidAddress)
	}

	switch data[0] &^ tagTestnetFlag {
	case tagBounceable, tagNonBounce:
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidAddress, data[0])
	}

	if crc16(data[:34]) != binary.BigEndian.Uint16(data[34:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	return data, nil
}

func formatRaw(workchain int8, account string) string {
	return fmt.Sprintf("%d:%s", workchain, account)
}

// crc16 is CRC-16/XMODEM as used by user-friendly TON addresses.
func crc16(data []byte) uint16 {
	var reg uint16
	for _, b := range data {
		reg ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if reg&0x8000 != 0 {
				reg = reg<<1 ^ crc16Polynomial
			} else {
				reg <<= 1
			}
		}
	}
	return reg
}
