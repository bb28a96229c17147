// Package qris builds dynamic QRIS payment payloads from a static merchant
// template. The template follows the EMV length-tagged field format: each
// field is a 2-digit tag, a 2-digit length and the value. A dynamic payload
// embeds the payable amount so the scanning e-wallet pre-fills it.
package qris

import (
	"fmt"
	"strconv"
	"strings"

	"wifi-voucher/pkg/errutil"
)

const (
	crc16Polynomial = 0x1021
	crc16Initial    = 0xFFFF

	// Point-of-initiation field (tag 01): "11" marks a static code that can
	// be paid any amount, "12" a dynamic one carrying a fixed amount.
	initiationStatic  = "010211"
	initiationDynamic = "010212"

	// Country code field (tag 58). The amount field (tag 54) slots in
	// immediately before it.
	countryField = "5802ID"
	amountTag    = "54"

	checksumLen = 4
)

// Checksum computes the CRC-16 (poly 0x1021, init 0xFFFF) over the input and
// renders it as 4 uppercase hex digits. It is the checksum carried in the
// trailing tag-63 field of a QRIS payload.
func Checksum(payload string) string {
	crc := uint32(crc16Initial)

	for i := 0; i < len(payload); i++ {
		crc ^= uint32(payload[i]) << 8

		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
		crc &= 0xFFFF
	}

	return fmt.Sprintf("%04X", crc&0xFFFF)
}

// Validate checks that the payload's trailing 4 characters match the checksum
// of everything before them.
func Validate(payload string) bool {
	if len(payload) <= checksumLen {
		return false
	}
	body := payload[:len(payload)-checksumLen]
	return Checksum(body) == payload[len(payload)-checksumLen:]
}

// BuildPayload turns the static merchant template into a dynamic payload for
// one exact amount:
//
//  1. strip the template's trailing 4-character checksum,
//  2. flip the initiation method from static to dynamic,
//  3. insert a tag-54 amount field immediately before the tag-58 country
//     field,
//  4. append a freshly computed checksum.
//
// The result re-validates under Checksum.
func BuildPayload(template string, amount int64) (string, error) {
	if len(template) <= checksumLen {
		return "", errutil.ValidationFailed("qris template too short")
	}
	if amount <= 0 {
		return "", errutil.ValidationFailed("amount must be positive")
	}

	body := template[:len(template)-checksumLen]

	if !strings.Contains(body, countryField) {
		return "", errutil.ValidationFailed("qris template has no country code field")
	}

	body = strings.Replace(body, initiationStatic, initiationDynamic, 1)

	amountValue := strconv.FormatInt(amount, 10)
	amountField := fmt.Sprintf("%s%02d%s", amountTag, len(amountValue), amountValue)
	body = strings.Replace(body, countryField, amountField+countryField, 1)

	return body + Checksum(body), nil
}
