package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Wafaqih/rekbernexo/internal/models"
)

const (
	minTitleLen = 3
	maxTitleLen = 100

	MinPrice = 1_000
	MaxPrice = 100_000_000

	minReasonLen     = 5
	maxReasonLen     = 500
	maxCommentLen    = 500
	maxNoteLen       = 200
	maxProofRefLen   = 512
	maxCourierLen    = 50
	maxTrackingLen   = 64
	maxBankFieldLen  = 100
	minAccountDigits = 6
	maxAccountDigits = 20
)

var (
	accountNumberRe = regexp.MustCompile(`^[0-9]{6,20}$`)
	// 08 + 8-11 digits, or 628 + 8-11 digits
	ewalletNumberRe = regexp.MustCompile(`^(08[0-9]{8,11}|628[0-9]{8,11})$`)

	ewalletProviders = map[string]bool{
		"DANA":      true,
		"OVO":       true,
		"GOPAY":     true,
		"SHOPEEPAY": true,
		"LINKAJA":   true,
	}

	separators = strings.NewReplacer(" ", "", "-", "", ".", "")
)

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n < minTitleLen || n > maxTitleLen {
		return "", validation("title must be %d-%d characters", minTitleLen, maxTitleLen)
	}
	return title, nil
}

func validatePrice(price int64) error {
	if price < MinPrice || price > MaxPrice {
		return validation("price must be between %d and %d", MinPrice, MaxPrice)
	}
	return nil
}

func validateRole(role string) (string, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != models.RoleBuyer && role != models.RoleSeller {
		return "", validation("role must be BUYER or SELLER")
	}
	return role, nil
}

func validateFeePayer(payer string) (string, error) {
	payer = strings.ToUpper(strings.TrimSpace(payer))
	if payer != models.FeePayerBuyer && payer != models.FeePayerSeller {
		return "", validation("fee payer must be BUYER or SELLER")
	}
	return payer, nil
}

func validateProofRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) > maxProofRefLen {
		return "", validation("proof reference must be 1-%d characters", maxProofRefLen)
	}
	return ref, nil
}

func validateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	n := utf8.RuneCountInString(reason)
	if n < minReasonLen || n > maxReasonLen {
		return "", validation("reason must be %d-%d characters", minReasonLen, maxReasonLen)
	}
	return reason, nil
}

func validateShipment(s ShipmentDetails) (courier, tracking *string, err error) {
	if c := strings.TrimSpace(s.Courier); c != "" {
		if utf8.RuneCountInString(c) > maxCourierLen {
			return nil, nil, validation("courier must be at most %d characters", maxCourierLen)
		}
		courier = &c
	}
	if t := strings.TrimSpace(s.TrackingNumber); t != "" {
		if utf8.RuneCountInString(t) > maxTrackingLen {
			return nil, nil, validation("tracking number must be at most %d characters", maxTrackingLen)
		}
		tracking = &t
	}
	return courier, tracking, nil
}

func validateRating(score int, comment string) (*string, error) {
	if score < 1 || score > 5 {
		return nil, validation("score must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(comment) > maxCommentLen {
		return nil, validation("comment must be at most %d characters", maxCommentLen)
	}
	return &comment, nil
}

// NormalizeEwalletNumber strips separators and a leading plus sign
func NormalizeEwalletNumber(number string) string {
	return strings.TrimPrefix(separators.Replace(strings.TrimSpace(number)), "+")
}

// validatePayout checks the complete method payload and returns the
// normalized destination; fields of the other method are left nil
func validatePayout(req PayoutRequest) (*models.PayoutDestination, error) {
	dest := &models.PayoutDestination{Method: strings.ToUpper(strings.TrimSpace(req.Method))}

	switch dest.Method {
	case models.PayoutMethodBank:
		bank := strings.TrimSpace(req.BankName)
		holder := strings.TrimSpace(req.AccountName)
		account := separators.Replace(strings.TrimSpace(req.AccountNumber))
		if bank == "" || utf8.RuneCountInString(bank) > maxBankFieldLen {
			return nil, validation("bank name is required")
		}
		if holder == "" || utf8.RuneCountInString(holder) > maxBankFieldLen {
			return nil, validation("account holder name is required")
		}
		if !accountNumberRe.MatchString(account) {
			return nil, validation("account number must be %d-%d digits", minAccountDigits, maxAccountDigits)
		}
		dest.BankName, dest.AccountName, dest.AccountNumber = &bank, &holder, &account
	case models.PayoutMethodEwallet:
		provider := strings.ToUpper(strings.TrimSpace(req.EwalletProvider))
		number := NormalizeEwalletNumber(req.EwalletNumber)
		if !ewalletProviders[provider] {
			return nil, validation("e-wallet provider must be one of DANA, OVO, GOPAY, SHOPEEPAY, LINKAJA")
		}
		if !ewalletNumberRe.MatchString(number) {
			return nil, validation("e-wallet number must start with 08 (10-13 digits) or 628 (11-14 digits)")
		}
		dest.EwalletProvider, dest.EwalletNumber = &provider, &number
	default:
		return nil, validation("payout method must be BANK or EWALLET")
	}

	if note := strings.TrimSpace(req.Note); note != "" {
		if utf8.RuneCountInString(note) > maxNoteLen {
			return nil, validation("note must be at most %d characters", maxNoteLen)
		}
		dest.Note = &note
	}
	return dest, nil
}
