package quality

import (
	"strings"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// fieldCheck reports whether a snapshot satisfies a field requirement.
type fieldCheck func(s *client.Snapshot) bool

const demographicsPrefix = "demographics."

func present(v *string) bool { return v != nil && strings.TrimSpace(*v) != "" }

// fields is keyed by lower-case field name.
var fields = map[string]fieldCheck{
	"email":                func(s *client.Snapshot) bool { return present(s.Client.Email) },
	"phone":                func(s *client.Snapshot) bool { return present(s.Client.Phone) },
	"address":              func(s *client.Snapshot) bool { return present(s.Client.Address) },
	"postalcode":           func(s *client.Snapshot) bool { return present(s.Client.PostalCode) },
	"dateofbirth":          func(s *client.Snapshot) bool { return s.Client.DateOfBirth != nil },
	"gender":               func(s *client.Snapshot) bool { return present(s.Client.Gender) },
	"referraldate":         func(s *client.Snapshot) bool { return s.Client.ReferralDate != nil },
	"firstappointmentdate": func(s *client.Snapshot) bool { return s.Client.FirstAppointmentDate != nil },
	"assignedpractitioner": func(s *client.Snapshot) bool { return present(s.Client.AssignedPractitioner) },
	"program":              func(s *client.Snapshot) bool { return s.Client.ProgramID != nil },
	"demographics":         func(s *client.Snapshot) bool { return len(s.Client.Demographics) > 0 },
	"baselineassessment":   func(s *client.Snapshot) bool { return len(s.Forms) > 0 },
	"consenttocontact":     func(s *client.Snapshot) bool { return s.Client.ConsentToContact },
	"consenttoresearch":    func(s *client.Snapshot) bool { return s.Client.ConsentToResearch },
	"closeddate":           func(s *client.Snapshot) bool { return s.Client.ClosedDate != nil },
	"dischargereason":      func(s *client.Snapshot) bool { return present(s.Client.DischargeReason) },
}

// lookupField resolves a requirement field name. Names are
// case-insensitive; "demographics.<key>" checks one demographics entry and
// a bare demographic key such as "Ethnicity" is treated the same way.
func lookupField(name string) (fieldCheck, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if check, ok := fields[key]; ok {
		return check, true
	}
	if strings.HasPrefix(key, demographicsPrefix) {
		sub := strings.TrimPrefix(key, demographicsPrefix)
		if sub == "" {
			return nil, false
		}
		return demographicCheck(sub), true
	}
	if _, ok := demographicKeys[key]; ok {
		return demographicCheck(key), true
	}
	return nil, false
}

// demographicKeys are demographics entries accepted without the prefix.
var demographicKeys = map[string]struct{}{
	"ethnicity":         {},
	"language":          {},
	"sexualorientation": {},
	"disability":        {},
	"religion":          {},
}

func demographicCheck(key string) fieldCheck {
	return func(s *client.Snapshot) bool {
		for k, v := range s.Client.Demographics {
			if !strings.EqualFold(k, key) {
				continue
			}
			switch val := v.(type) {
			case nil:
				return false
			case string:
				return strings.TrimSpace(val) != ""
			case []interface{}:
				return len(val) > 0
			case map[string]interface{}:
				return len(val) > 0
			default:
				return true
			}
		}
		return false
	}
}

// KnownField reports whether name resolves to a field check.
func KnownField(name string) bool {
	_, ok := lookupField(name)
	return ok
}
