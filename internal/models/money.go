package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// NanoTON — сумма в нано-TON (1 TON = 10^9 нано-TON).
// Хранится как целое число; в JSON сериализуется строкой,
// чтобы клиенты на JS не теряли точность на больших суммах.
type NanoTON int64

// ParseNanoTON парсит неотрицательную сумму из десятичной строки.
func ParseNanoTON(s string) (NanoTON, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("сумма должна быть целым числом в нано-TON: %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("сумма не может быть отрицательной: %q", s)
	}
	return NanoTON(v), nil
}

func (n NanoTON) String() string {
	return strconv.FormatInt(int64(n), 10)
}

// PlatformFee возвращает комиссию платформы: floor(n * feeBps / 10000).
func (n NanoTON) PlatformFee(feeBps int) NanoTON {
	return NanoTON(int64(n) * int64(feeBps) / 10000)
}

// MarshalJSON сериализует сумму десятичной строкой.
func (n NanoTON) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON принимает только строку — число в JSON считается ошибкой протокола.
func (n *NanoTON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("сумма в нано-TON передаётся строкой, не числом")
	}
	parsed, err := ParseNanoTON(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Value реализует driver.Valuer для записи в BIGINT колонку.
func (n NanoTON) Value() (driver.Value, error) {
	return int64(n), nil
}

// Scan реализует sql.Scanner.
func (n *NanoTON) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*n = NanoTON(v)
		return nil
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("nanoton: не удалось распарсить %q: %w", string(v), err)
		}
		*n = NanoTON(parsed)
		return nil
	case nil:
		*n = 0
		return nil
	default:
		return fmt.Errorf("nanoton: неподдерживаемый тип %T", src)
	}
}
