// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// NormalizeISBN удаляет из ISBN дефисы и пробелы и приводит контрольный символ X к верхнему регистру.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	b.Grow(len(isbn))
	for _, ch := range isbn {
		switch {
		case ch == '-' || ch == ' ':
			continue
		case ch == 'x':
			b.WriteRune('X')
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// IsValidISBN проверяет контрольную цифру ISBN-10 или ISBN-13.
func IsValidISBN(isbn string) bool {
	isbn = NormalizeISBN(isbn)
	switch len(isbn) {
	case 10:
		return isValidISBN10(isbn)
	case 13:
		return isValidISBN13(isbn)
	}
	return false
}

func isValidISBN10(isbn string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		ch := isbn[i]
		var digit int
		switch {
		case ch >= '0' && ch <= '9':
			digit = int(ch - '0')
		case ch == 'X' && i == 9:
			digit = 10
		default:
			return false
		}
		sum += (10 - i) * digit
	}
	return sum%11 == 0
}

func isValidISBN13(isbn string) bool {
	if !strings.HasPrefix(isbn, "978") && !strings.HasPrefix(isbn, "979") {
		return false
	}

	sum := 0
	for i := 0; i < 13; i++ {
		ch := isbn[i]
		if ch < '0' || ch > '9' {
			return false
		}
		digit := int(ch - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return sum%10 == 0
}
