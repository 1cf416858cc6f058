package auth

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nameRe  = regexp.MustCompile(`^[a-zA-Z\-']*$`)
	phoneRe = regexp.MustCompile(`^\d{10,15}$`)
)

// ValidPassword reports whether password meets the policy: at least eight
// characters with an upper-case letter, a lower-case letter and a digit.
func ValidPassword(password string) bool {
	if utf8.RuneCountInString(password) < 8 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

// CleanName trims a name and upper-cases its first letter.
func CleanName(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// normalizeSignup trims every field, cleans names and maps an empty phone
// to nil.
func normalizeSignup(in SignupInput) (SignupInput, *string) {
	in.FirstName = CleanName(in.FirstName)
	in.LastName = CleanName(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Password = strings.TrimSpace(in.Password)
	in.PasswordConf = strings.TrimSpace(in.PasswordConf)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Phone == "" {
		return in, nil
	}
	phone := in.Phone
	return in, &phone
}

// ValidateSignup applies the signup checks in order and returns the first
// failure.
func ValidateSignup(in SignupInput) error {
	switch {
	case in.FirstName == "" || in.LastName == "" || in.Email == "" || in.Password == "" || in.PasswordConf == "":
		return &ValidationError{Reason: MsgEmptyFields}
	case !ValidPassword(in.Password):
		return &ValidationError{Field: "password", Reason: MsgPasswordPolicy}
	case !nameRe.MatchString(in.FirstName) || !nameRe.MatchString(in.LastName):
		return &ValidationError{Field: "name", Reason: MsgInvalidName}
	case !emailRe.MatchString(in.Email):
		return &ValidationError{Field: "email", Reason: MsgInvalidEmail}
	case in.PasswordConf != in.Password:
		return &ValidationError{Field: "passwordConf", Reason: MsgSignupMismatch}
	case in.Phone != "" && !phoneRe.MatchString(in.Phone):
		return &ValidationError{Field: "phone", Reason: MsgInvalidPhone}
	}
	return nil
}

// Slugify lower-cases s, strips diacritics and joins the remaining
// alphanumeric runs with single hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// AccountSlug is slugify(first-last) suffixed with the creation time in
// unix milliseconds.
func AccountSlug(first, last string, at time.Time) string {
	return Slugify(first+"-"+last) + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}
