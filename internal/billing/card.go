package billing

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/clubledger/clubledger/internal/shared"
)

// CardInstrument is the non-sensitive result of tokenizing a one-time card:
// an opaque token, display fields, and a fingerprint for duplicate detection.
type CardInstrument struct {
	Token       string
	Brand       string
	Last4       string
	ExpMonth    int
	ExpYear     int
	Fingerprint string
}

// ValidateCard checks a one-time card payload structurally: number 12-19
// digits, month 1-12, year not in the past, cvc 3-4 digits. It never talks
// to a gateway.
func ValidateCard(card *OneTimeCard, now time.Time) error {
	fields := map[string]string{}

	number := strings.ReplaceAll(card.Number, " ", "")
	if !digitsOnly(number) || len(number) < 12 || len(number) > 19 {
		fields["card.number"] = "must be 12-19 digits"
	}
	if card.ExpMonth < 1 || card.ExpMonth > 12 {
		fields["card.exp_month"] = "must be between 1 and 12"
	}
	if card.ExpYear < now.Year() {
		fields["card.exp_year"] = "card is expired"
	} else if card.ExpYear == now.Year() && card.ExpMonth >= 1 && card.ExpMonth <= 12 && time.Month(card.ExpMonth) < now.Month() {
		fields["card.exp_year"] = "card is expired"
	}
	if !digitsOnly(card.CVC) || len(card.CVC) < 3 || len(card.CVC) > 4 {
		fields["card.cvc"] = "must be 3-4 digits"
	}

	if len(fields) > 0 {
		return shared.NewValidationError("invalid card details", fields)
	}
	return nil
}

// Tokenize converts a validated card into a non-sensitive instrument. The
// fingerprint is stable per PAN so a re-saved card can be recognised; the
// token is random and meaningless outside this system.
func Tokenize(card *OneTimeCard) CardInstrument {
	number := strings.ReplaceAll(card.Number, " ", "")
	sum := sha3.Sum256([]byte(number))
	return CardInstrument{
		Token:       "tok_" + uuid.NewString(),
		Brand:       brandOf(number),
		Last4:       number[len(number)-4:],
		ExpMonth:    card.ExpMonth,
		ExpYear:     card.ExpYear,
		Fingerprint: hex.EncodeToString(sum[:16]),
	}
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// brandOf guesses the scheme from the leading digits, display only.
func brandOf(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "5"):
		return "mastercard"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "6"):
		return "discover"
	default:
		return "card"
	}
}
