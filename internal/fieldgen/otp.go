package fieldgen

import (
	"errors"
	"fmt"
	"regexp"
	"time"
	_ "time/tzdata"

	"msggrabber/internal/authorize"
	"msggrabber/internal/config"
)

const (
	OTPExpiry = "otp_expiry"
	OTPCode   = "otp_code"

	// OptionTimezone names the location the expiry time is written in.
	OptionTimezone = "timezone"

	expiryLayout = "15:04:05 02/01/2006"
)

var (
	expiryPattern = regexp.MustCompile(`.*use it by\s+(?P<expiry>.*?)\s+Singapore`)
	codePattern   = regexp.MustCompile(`(?P<otp>\d{6})`)

	errNoMessage = errors.New("no msg parameter")
)

// GenerateOTPExpiry finds the "use it by <time> Singapore" phrase in msg and
// returns the time in RFC 3339 form.
func GenerateOTPExpiry(params authorize.Params, field config.FieldSpec) (string, error) {
	msg, ok := params.Lookup("msg")
	if !ok {
		return "", fmt.Errorf("%s: %w", OTPExpiry, errNoMessage)
	}

	m := expiryPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", fmt.Errorf("%s: could not locate OTP expiry time in message", OTPExpiry)
	}
	text := m[expiryPattern.SubexpIndex("expiry")]

	loc := time.UTC
	if name := field.Options[OptionTimezone]; name != "" {
		var err error
		if loc, err = time.LoadLocation(name); err != nil {
			return "", fmt.Errorf("%s: %w", OTPExpiry, err)
		}
	}

	expiry, err := time.ParseInLocation(expiryLayout, text, loc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", OTPExpiry, err)
	}
	return expiry.Format(time.RFC3339), nil
}

// GenerateOTPCode returns the first six digit run in msg.
func GenerateOTPCode(params authorize.Params, _ config.FieldSpec) (string, error) {
	msg, ok := params.Lookup("msg")
	if !ok {
		return "", fmt.Errorf("%s: %w", OTPCode, errNoMessage)
	}
	m := codePattern.FindStringSubmatch(msg)
	if m == nil {
		return "", fmt.Errorf("%s: no OTP in message", OTPCode)
	}
	return m[codePattern.SubexpIndex("otp")], nil
}
