package auth

import "strings"

// DefaultOrgDomains lists the organisational domains whose members are administrators.
var DefaultOrgDomains = []string{"seda.org.za"}

// Classifier derives a CoarseType from an email address.
// The zero value classifies against DefaultOrgDomains.
type Classifier struct {
	OrgDomains []string
}

// NewClassifier returns a classifier for the given domains, normalised to lower case.
func NewClassifier(domains []string) Classifier {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, "@")))
		if d != "" {
			out = append(out, d)
		}
	}
	return Classifier{OrgDomains: out}
}

// DetermineType is total: every input, including the empty string, yields a type.
// An address is admin when it contains "admin" anywhere or its domain ends with an org domain.
func (c Classifier) DetermineType(email string) CoarseType {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return TypeParticipant
	}
	if strings.Contains(e, "admin") {
		return TypeAdmin
	}
	domains := c.OrgDomains
	if len(domains) == 0 {
		domains = DefaultOrgDomains
	}
	for _, d := range domains {
		if strings.HasSuffix(e, "@"+d) || strings.HasSuffix(e, "."+d) {
			return TypeAdmin
		}
	}
	return TypeParticipant
}

// DetermineType classifies with the default organisational domains.
func DetermineType(email string) CoarseType {
	return Classifier{}.DetermineType(email)
}
