package models

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	dErrors "kycflow/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

// Address is a postal address. Only Country is required to advance.
type Address struct {
	Line1      string `json:"line1,omitempty" validate:"max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city,omitempty" validate:"max=100"`
	Region     string `json:"region,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// PersonalInfo is the self-declared identity of the subject.
type PersonalInfo struct {
	FirstName     string           `json:"first_name" validate:"required,max=100"`
	MiddleName    string           `json:"middle_name,omitempty" validate:"max=100"`
	LastName      string           `json:"last_name" validate:"required,max=100"`
	DateOfBirth   string           `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Nationality   string           `json:"nationality" validate:"required,iso3166_1_alpha2"`
	Phone         string           `json:"phone" validate:"required,max=32"`
	Email         string           `json:"email,omitempty" validate:"omitempty,email"`
	Address       Address          `json:"address"`
	Occupation    string           `json:"occupation,omitempty" validate:"max=100"`
	AnnualIncome  *decimal.Decimal `json:"annual_income,omitempty"`
	SourceOfFunds string           `json:"source_of_funds,omitempty" validate:"omitempty,oneof=salary business investments inheritance savings pension other"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func personalInfoValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Normalize trims free text and upper-cases country codes in place.
func (p *PersonalInfo) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.MiddleName = strings.TrimSpace(p.MiddleName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.DateOfBirth = strings.TrimSpace(p.DateOfBirth)
	p.Nationality = strings.ToUpper(strings.TrimSpace(p.Nationality))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
	p.Occupation = strings.TrimSpace(p.Occupation)
	p.SourceOfFunds = strings.ToLower(strings.TrimSpace(p.SourceOfFunds))
	p.Address.Country = strings.ToUpper(strings.TrimSpace(p.Address.Country))
	p.Address.Line1 = strings.TrimSpace(p.Address.Line1)
	p.Address.Line2 = strings.TrimSpace(p.Address.Line2)
	p.Address.City = strings.TrimSpace(p.Address.City)
	p.Address.Region = strings.TrimSpace(p.Address.Region)
	p.Address.PostalCode = strings.TrimSpace(p.Address.PostalCode)
}

// Validate checks required fields, formats, phone validity and the minimum
// age at now. It returns every failing field, never stopping at the first.
// On success the phone number is rewritten in E.164 form.
func (p *PersonalInfo) Validate(now time.Time, minimumAge int) []dErrors.FieldError {
	var fields []dErrors.FieldError

	if err := personalInfoValidator().Struct(p); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []dErrors.FieldError{{Field: "personal_info", Message: err.Error()}}
		}
		for _, fe := range verrs {
			fields = append(fields, dErrors.FieldError{Field: fieldPath(fe), Message: describeTag(fe)})
		}
	}

	if p.DateOfBirth != "" && !hasField(fields, "date_of_birth") {
		if msg := checkAge(p.DateOfBirth, now, minimumAge); msg != "" {
			fields = append(fields, dErrors.FieldError{Field: "date_of_birth", Message: msg})
		}
	}

	if p.Phone != "" && !hasField(fields, "phone") {
		if e164, ok := normalizePhone(p.Phone, p.Address.Country); ok {
			p.Phone = e164
		} else {
			fields = append(fields, dErrors.FieldError{Field: "phone", Message: "is not a valid phone number"})
		}
	}

	if p.AnnualIncome != nil && p.AnnualIncome.IsNegative() {
		fields = append(fields, dErrors.FieldError{Field: "annual_income", Message: "must not be negative"})
	}
	return fields
}

// Age returns the subject's age in whole years at now.
func Age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

func checkAge(raw string, now time.Time, minimumAge int) string {
	dob, err := time.ParseInLocation(dateLayout, raw, now.Location())
	if err != nil {
		return "must be a date in YYYY-MM-DD format"
	}
	if dob.After(now) {
		return "must not be in the future"
	}
	if Age(dob, now) < minimumAge {
		return fmt.Sprintf("must be at least %d years old", minimumAge)
	}
	return ""
}

func normalizePhone(raw, region string) (string, bool) {
	num, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", false
	}
	return libphonenumber.Format(num, libphonenumber.E164), true
}

// fieldPath drops the root struct name: "PersonalInfo.address.country"
// becomes "address.country".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "iso3166_1_alpha2":
		return "must be an ISO 3166-1 alpha-2 country code"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func hasField(fields []dErrors.FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// FullName joins the name parts for display.
func (p *PersonalInfo) FullName() string {
	return strings.Join(strings.Fields(p.FirstName+" "+p.MiddleName+" "+p.LastName), " ")
}
