package handlers

import (
	"encoding/json"
	"regexp"
	"strings"

	"bitespeed/internal/models"
)

const maxEmailLength = 254

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9().\-\s]*[0-9][0-9().\-\s]*$`)
)

// identifyPayload is the raw body; fields stay untyped so a numeric phone number or a
// wrongly typed email can be reported instead of failing the whole decode.
type identifyPayload struct {
	Email       interface{} `json:"email"`
	PhoneNumber interface{} `json:"phoneNumber"`
}

// validate checks the payload and converts it into a request. All problems are reported.
func (p identifyPayload) validate() (models.IdentifyRequest, []string) {
	var errs []string
	var req models.IdentifyRequest

	email, emailPresent, ok := optionalString(p.Email, false)
	if !ok {
		errs = append(errs, "Email must be a string")
		emailPresent = false
	}
	phone, phonePresent, ok := optionalString(p.PhoneNumber, true)
	if !ok {
		errs = append(errs, "Phone number must be a string")
		phonePresent = false
	}
	if !emailPresent && !phonePresent && len(errs) == 0 {
		return req, []string{"Either email or phoneNumber must be provided"}
	}

	if emailPresent {
		trimmed := strings.TrimSpace(email)
		switch {
		case trimmed == "":
			errs = append(errs, "Email cannot be empty")
		case len(trimmed) > maxEmailLength || !emailPattern.MatchString(trimmed):
			errs = append(errs, "Invalid email format")
		default:
			req.Email = &email
		}
	}
	if phonePresent {
		trimmed := strings.TrimSpace(phone)
		switch {
		case trimmed == "":
			errs = append(errs, "Phone number cannot be empty")
		case !phonePattern.MatchString(trimmed):
			errs = append(errs, "Invalid phone number format. Must contain digits with optional formatting")
		default:
			req.PhoneNumber = &phone
		}
	}
	return req, errs
}

// optionalString unpacks a JSON value that may be absent, null, a string or, when
// allowNumber is set, a number. ok is false for any other type.
func optionalString(v interface{}, allowNumber bool) (s string, present bool, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false, true
	case string:
		return t, true, true
	case json.Number:
		return t.String(), true, allowNumber
	default:
		return "", true, false
	}
}
