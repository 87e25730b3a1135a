// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidRoutingNumber проверяет банковский routing-номер по контрольной
// сумме ABA: девять цифр с весами 3, 7 и 1.
func IsValidRoutingNumber(number string) bool {
	if len(number) != 9 {
		return false
	}

	digits := make([]int, 9)
	for i, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
		digits[i] = int(ch - '0')
	}

	sum := 3*(digits[0]+digits[3]+digits[6]) +
		7*(digits[1]+digits[4]+digits[7]) +
		(digits[2] + digits[5] + digits[8])

	return sum%10 == 0
}
