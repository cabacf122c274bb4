package pii

import "sort"

// Entity type codes produced by detectors.
const (
	EntityPerson            = "PERSON"
	EntityEmail             = "EMAIL_ADDRESS"
	EntityPhone             = "PHONE_NUMBER"
	EntityCreditCard        = "CREDIT_CARD"
	EntityCreditCardPattern = "CREDIT_CARD_PATTERN"
	EntityLocation          = "LOCATION"
	EntityAddress           = "ADDRESS"
	EntityDateTime          = "DATE_TIME"
	EntityAge               = "AGE"
)

// personLabelPrefix is the label prefix used for resolved person tokens.
const personLabelPrefix = "PERSON_"

// DefaultPlaceholders maps detector entity types to the canonical label used
// inside redaction tokens. Types missing from the table are their own label.
var DefaultPlaceholders = Placeholders{
	// Names and personal info
	"PERSON":        "PERSON",
	"EMAIL_ADDRESS": "EMAIL",
	"PHONE_NUMBER":  "PHONE",
	// Financial
	"CREDIT_CARD":         "CREDIT_CARD",
	"CREDIT_CARD_PATTERN": "CREDIT_CARD",
	"IBAN_CODE":           "BANK_ACCOUNT",
	"US_BANK_NUMBER":      "BANK_ACCOUNT",
	// Government and legal identifiers
	"US_SSN":            "SSN",
	"US_PASSPORT":       "PASSPORT",
	"US_DRIVER_LICENSE": "DRIVER_LICENSE",
	"US_ITIN":           "TAX_ID",
	// UK identifiers
	"UK_NHS":              "NHS_NUMBER",
	"UK_NINO":             "NATIONAL_INSURANCE",
	"UK_PASSPORT":         "UK_PASSPORT",
	"UK_DRIVER_LICENSE":   "UK_DRIVER_LICENSE",
	"UK_SORT_CODE":        "UK_SORT_CODE",
	"UK_TAX_ID":           "UK_TAX_ID",
	"UK_POSTCODE":         "UK_POSTCODE",
	"UK_VAT_NUMBER":       "UK_VAT_NUMBER",
	"UK_COMPANY_NUMBER":   "UK_COMPANY_NUMBER",
	"UK_COUNCIL_TAX_REF":  "UK_COUNCIL_TAX_REF",
	"UK_UTILITY_ACCOUNT":  "UK_UTILITY_ACCOUNT",
	"UK_ELECTORAL_ROLL":   "UK_ELECTORAL_ROLL",
	"UK_STUDENT_ID":       "UK_STUDENT_ID",
	"UK_PENSION_REF":      "UK_PENSION_REF",
	"UK_BENEFIT_REF":      "UK_BENEFIT_REF",
	"UK_COURT_REF":        "UK_COURT_REF",
	"UK_MEDICAL_REF":      "UK_MEDICAL_REF",
	"UK_INSURANCE_POLICY": "UK_INSURANCE_POLICY",
	// Location
	"LOCATION": "ADDRESS",
	// Dates
	"DATE_TIME": "DATE",
	"AGE":       "AGE",
	// Professional
	"MEDICAL_LICENSE": "MEDICAL_LICENSE",
	// Technical
	"IP_ADDRESS": "IP_ADDRESS",
	"URL":        "URL",
	"CRYPTO":     "CRYPTO_ADDRESS",
}

// DetectableEntities is the default allowlist passed to detectors.
var DetectableEntities = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER",
	"CREDIT_CARD", "CREDIT_CARD_PATTERN", "IBAN_CODE", "US_BANK_NUMBER",
	"US_SSN", "US_PASSPORT", "US_DRIVER_LICENSE", "US_ITIN",
	"UK_NHS", "UK_NINO", "UK_PASSPORT", "UK_DRIVER_LICENSE", "UK_SORT_CODE",
	"UK_TAX_ID", "UK_POSTCODE", "UK_VAT_NUMBER", "UK_COMPANY_NUMBER",
	"UK_COUNCIL_TAX_REF", "UK_UTILITY_ACCOUNT", "UK_ELECTORAL_ROLL",
	"UK_STUDENT_ID", "UK_PENSION_REF", "UK_BENEFIT_REF", "UK_COURT_REF",
	"UK_MEDICAL_REF", "UK_INSURANCE_POLICY",
	"LOCATION", "ADDRESS",
	"DATE_TIME", "AGE",
	"MEDICAL_LICENSE",
	"IP_ADDRESS", "URL", "CRYPTO",
}

// Placeholders maps entity type codes to canonical labels.
type Placeholders map[string]string

// Label returns the canonical label for entityType, or entityType itself
// when the table has no entry.
func (p Placeholders) Label(entityType string) string {
	if label, ok := p[entityType]; ok {
		return label
	}
	return entityType
}

// Labels returns the sorted, de-duplicated set of canonical labels.
func (p Placeholders) Labels() []string {
	seen := make(map[string]struct{}, len(p))
	out := make([]string, 0, len(p))
	for _, label := range p {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func isCardType(entityType string) bool {
	return entityType == EntityCreditCard || entityType == EntityCreditCardPattern
}
