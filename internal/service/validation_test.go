package service

import (
	"strings"
	"testing"

	"github.com/Wafaqih/rekbernexo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTitle(t *testing.T) {
	title, err := validateTitle("  Item X  ")
	require.NoError(t, err)
	assert.Equal(t, "Item X", title)

	_, err = validateTitle("ab")
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = validateTitle(strings.Repeat("a", 101))
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = validateTitle(strings.Repeat("é", 100))
	assert.NoError(t, err)
}

func TestValidatePayout(t *testing.T) {
	tests := []struct {
		name    string
		req     PayoutRequest
		wantErr bool
	}{
		{"bank ok", PayoutRequest{Method: "bank", BankName: "BCA", AccountNumber: "123-456-789", AccountName: "Ani"}, false},
		{"bank missing holder", PayoutRequest{Method: "BANK", BankName: "BCA", AccountNumber: "123456789"}, true},
		{"bank short account", PayoutRequest{Method: "BANK", BankName: "BCA", AccountNumber: "12345", AccountName: "Ani"}, true},
		{"bank letters", PayoutRequest{Method: "BANK", BankName: "BCA", AccountNumber: "12345abc", AccountName: "Ani"}, true},
		{"ewallet 08", PayoutRequest{Method: "EWALLET", EwalletProvider: "ovo", EwalletNumber: "0812 3456 789"}, false},
		{"ewallet 628", PayoutRequest{Method: "EWALLET", EwalletProvider: "GOPAY", EwalletNumber: "+6281234567890"}, false},
		{"ewallet unknown provider", PayoutRequest{Method: "EWALLET", EwalletProvider: "PAYPAL", EwalletNumber: "081234567890"}, true},
		{"ewallet bad prefix", PayoutRequest{Method: "EWALLET", EwalletProvider: "DANA", EwalletNumber: "0712345678"}, true},
		{"ewallet too short", PayoutRequest{Method: "EWALLET", EwalletProvider: "DANA", EwalletNumber: "0812345"}, true},
		{"unknown method", PayoutRequest{Method: "CASH"}, true},
		{"long note", PayoutRequest{Method: "BANK", BankName: "BCA", AccountNumber: "123456789", AccountName: "Ani", Note: strings.Repeat("n", 201)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := validatePayout(tt.req)
			if tt.wantErr {
				assert.Equal(t, KindValidation, KindOf(err))
				assert.Nil(t, dest)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, dest.Method)
		})
	}
}

func TestValidatePayoutNormalizes(t *testing.T) {
	dest, err := validatePayout(PayoutRequest{Method: "bank", BankName: " BRI ", AccountNumber: "1234.5678 90", AccountName: "Ani"})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutMethodBank, dest.Method)
	assert.Equal(t, "BRI", *dest.BankName)
	assert.Equal(t, "1234567890", *dest.AccountNumber)
	assert.Nil(t, dest.EwalletNumber)

	dest, err = validatePayout(PayoutRequest{Method: "ewallet", EwalletProvider: "shopeepay", EwalletNumber: "0812-3456-789"})
	require.NoError(t, err)
	assert.Equal(t, "SHOPEEPAY", *dest.EwalletProvider)
	assert.Equal(t, "08123456789", *dest.EwalletNumber)
	assert.Nil(t, dest.BankName)
}

func TestValidateShipmentAndRating(t *testing.T) {
	courier, tracking, err := validateShipment(ShipmentDetails{Courier: " SiCepat "})
	require.NoError(t, err)
	assert.Equal(t, "SiCepat", *courier)
	assert.Nil(t, tracking)

	_, _, err = validateShipment(ShipmentDetails{TrackingNumber: strings.Repeat("9", 65)})
	assert.Equal(t, KindValidation, KindOf(err))

	comment, err := validateRating(3, "   ")
	require.NoError(t, err)
	assert.Nil(t, comment)
	_, err = validateRating(0, "")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestTransitionTable(t *testing.T) {
	to, err := target(EventSubmitPayout, models.StatusAwaitingPayout)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayout, to)

	_, err = target(EventConfirmReceipt, models.StatusRefunded)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindInvalidState, ce.Kind)
	assert.Equal(t, models.StatusRefunded, ce.Status)
	assert.Contains(t, ce.Message, "already REFUNDED")

	_, err = target(EventConfirmReceipt, models.StatusFunded)
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "while deal is FUNDED")

	terminal := []string{models.StatusCompleted, models.StatusCancelled, models.StatusRefunded}
	for _, status := range terminal {
		assert.True(t, models.IsTerminal(status), status)
	}
	assert.False(t, models.IsTerminal(models.StatusDisputed))
	assert.False(t, models.IsTerminal(models.StatusAwaitingPayout))
	for event, from := range transitions {
		for _, status := range terminal {
			_, ok := from[status]
			assert.False(t, ok, "%s fires from terminal %s", event, status)
		}
	}

	assert.True(t, cancelRequestAllowed(models.StatusFunded))
	assert.False(t, cancelRequestAllowed(models.StatusDisputed))
}
