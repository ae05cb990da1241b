package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFloats parses a comma-joined query response such as "0.001,-2e-05,0"
// into one float per field.
func ParseFloats(resp string) ([]float64, error) {
	if strings.TrimSpace(resp) == "" {
		return nil, nil
	}
	fields := strings.Split(resp, ",")
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("scpi: bad numeric response %q: %w", resp, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// IDN is the parsed form of a *idn? response.
type IDN struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// ParseIDN parses the four comma-separated fields of a *idn? response.
func ParseIDN(resp string) (IDN, error) {
	fields := strings.Split(resp, ",")
	if len(fields) != 4 {
		return IDN{}, fmt.Errorf("scpi: malformed *idn? response %q", resp)
	}
	return IDN{
		Manufacturer: strings.TrimSpace(fields[0]),
		Model:        strings.TrimSpace(fields[1]),
		Serial:       strings.TrimSpace(fields[2]),
		Firmware:     strings.TrimSpace(fields[3]),
	}, nil
}
