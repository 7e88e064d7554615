// Package domains classifies email domains as personal/public providers
// (excluded from partner analysis) versus organizational domains.
package domains

import "strings"

// excluded is the static list of known public and personal email providers.
// This is versioned configuration, not derived data; extend a Classifier with
// WithExtra rather than editing call sites.
var excluded = map[string]struct{}{
	// Google
	"gmail.com":      {},
	"googlemail.com": {},
	// Microsoft
	"outlook.com":   {},
	"hotmail.com":   {},
	"hotmail.co.uk": {},
	"hotmail.fr":    {},
	"live.com":      {},
	"msn.com":       {},
	// Yahoo
	"yahoo.com":    {},
	"yahoo.co.uk":  {},
	"yahoo.fr":     {},
	"yahoo.co.in":  {},
	"ymail.com":    {},
	"rocketmail.com": {},
	// Apple
	"icloud.com": {},
	"me.com":     {},
	"mac.com":    {},
	// AOL
	"aol.com": {},
	// Proton
	"protonmail.com": {},
	"proton.me":      {},
	"pm.me":          {},
	// Other providers and regional ISPs
	"mail.com":      {},
	"gmx.com":       {},
	"gmx.de":        {},
	"zoho.com":      {},
	"fastmail.com":  {},
	"comcast.net":   {},
	"verizon.net":   {},
	"att.net":       {},
	"sbcglobal.net": {},
	"bellsouth.net": {},
	"cox.net":       {},
	"charter.net":   {},
	"btinternet.com": {},
	"sky.com":       {},
	"orange.fr":     {},
	"wanadoo.fr":    {},
	"free.fr":       {},
	"web.de":        {},
	"t-online.de":   {},
	"bigpond.com":   {},
	"optusnet.com.au": {},
	"xtra.co.nz":    {},
	// Disposable mail
	"mailinator.com":  {},
	"guerrillamail.com": {},
	"10minutemail.com": {},
	"tempmail.com":    {},
	"yopmail.com":     {},
}

// Classifier answers whether a domain belongs to a public email provider.
// The zero value uses the built-in provider list.
type Classifier struct {
	extra map[string]struct{}
}

// WithExtra returns a Classifier that additionally excludes the given domains.
func WithExtra(domains ...string) Classifier {
	extra := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		extra[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return Classifier{extra: extra}
}

// IsExcluded reports whether domain is a known public/personal email provider.
// An empty domain is always excluded.
func (c Classifier) IsExcluded(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return true
	}
	if _, ok := excluded[d]; ok {
		return true
	}
	_, ok := c.extra[d]
	return ok
}

// IsExcluded reports whether domain is a known public/personal email provider
// using the default list.
func IsExcluded(domain string) bool {
	return Classifier{}.IsExcluded(domain)
}
