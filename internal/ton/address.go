package ton

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Структурная валидация TON адресов. Ходить в сеть здесь нельзя:
// проверяем только формат (user-friendly base64 с CRC16 либо raw форму).

const (
	// Теги первого байта user-friendly адреса.
	tagBounceable    = 0x11
	tagNonBounceable = 0x51
	// Бит testnet-only, может быть выставлен поверх тега.
	flagTestOnly = 0x80
)

// ValidateAddress проверяет структуру TON адреса.
// Принимает user-friendly форму (48 символов base64/base64url, 36 байт
// с CRC16-CCITT) и raw форму "workchain:hex64".
func ValidateAddress(addr string) bool {
	if addr == "" {
		return false
	}
	if strings.Contains(addr, ":") {
		return validateRawAddress(addr)
	}
	return validateFriendlyAddress(addr)
}

func validateRawAddress(addr string) bool {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return false
	}
	// Поддерживаем только basechain и masterchain.
	if parts[0] != "0" && parts[0] != "-1" {
		return false
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return len(raw) == 32
}

func validateFriendlyAddress(addr string) bool {
	if len(addr) != 48 {
		return false
	}

	data, err := decodeBase64Any(addr)
	if err != nil || len(data) != 36 {
		return false
	}

	tag := data[0] &^ flagTestOnly
	if tag != tagBounceable && tag != tagNonBounceable {
		return false
	}

	// workchain: 0x00 (basechain) или 0xff (masterchain)
	if data[1] != 0x00 && data[1] != 0xff {
		return false
	}

	want := uint16(data[34])<<8 | uint16(data[35])
	return crc16(data[:34]) == want
}

// FriendlyAddress собирает user-friendly форму из raw адреса "wc:hex".
// Используется для нормализации адресов, которые шлюз возвращает в raw форме.
func FriendlyAddress(raw string, bounceable bool) (string, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("ton: ожидается raw адрес вида wc:hex, получено %q", raw)
	}

	var wc byte
	switch parts[0] {
	case "0":
		wc = 0x00
	case "-1":
		wc = 0xff
	default:
		return "", fmt.Errorf("ton: неподдерживаемый workchain %q", parts[0])
	}

	hash, err := hex.DecodeString(parts[1])
	if err != nil || len(hash) != 32 {
		return "", fmt.Errorf("ton: некорректный хеш аккаунта в %q", raw)
	}

	buf := make([]byte, 36)
	if bounceable {
		buf[0] = tagBounceable
	} else {
		buf[0] = tagNonBounceable
	}
	buf[1] = wc
	copy(buf[2:34], hash)

	sum := crc16(buf[:34])
	buf[34] = byte(sum >> 8)
	buf[35] = byte(sum)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// decodeBase64Any принимает и стандартный, и url-safe алфавит,
// с padding и без — кошельки присылают адреса в любом из вариантов.
func decodeBase64Any(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// crc16 — CRC16-CCITT (XMODEM), как в стандарте TON адресов.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
