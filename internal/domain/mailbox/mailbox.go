// Package mailbox infers the mailbox provider behind a domain from its MX hosts.
package mailbox

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/stoik/email-risk/internal/domain"
)

// pattern maps an exchange-host suffix to its provider
type pattern struct {
	suffix   string
	provider domain.Provider
}

// patterns are checked in order against each exchange host
var patterns = []pattern{
	{"google.com.", domain.ProviderGoogle},
	{"googlemail.com.", domain.ProviderGoogle},
	{"outlook.com.", domain.ProviderMicrosoft},
	{"protection.outlook.com.", domain.ProviderMicrosoft},
	{"hotmail.com.", domain.ProviderMicrosoft},
	{"yahoodns.net.", domain.ProviderYahoo},
	{"yahoo.com.", domain.ProviderYahoo},
	{"zoho.com.", domain.ProviderZoho},
	{"zoho.eu.", domain.ProviderZoho},
	{"protonmail.ch.", domain.ProviderProton},
	{"proton.me.", domain.ProviderProton},
	{"icloud.com.", domain.ProviderICloud},
	{"me.com.", domain.ProviderICloud},
	{"messagingengine.com.", domain.ProviderFastmail},
	{"fastmail.com.", domain.ProviderFastmail},
	{"yandex.net.", domain.ProviderYandex},
	{"yandex.ru.", domain.ProviderYandex},
	{"mail.ru.", domain.ProviderMailRu},
}

// Classify returns the provider for queriedDomain given its MX exchange hosts.
//
// Known provider patterns win over self-hosting. A domain whose exchange
// lives inside the domain itself is self_hosted. No exchanges means none.
func Classify(queriedDomain string, exchanges []string) domain.Provider {
	if len(exchanges) == 0 {
		return domain.ProviderNone
	}

	zone := dns.Fqdn(strings.ToLower(queriedDomain))
	selfHosted := false
	for _, ex := range exchanges {
		host := dns.Fqdn(strings.ToLower(strings.TrimSpace(ex)))
		if host == "." {
			continue
		}
		for _, p := range patterns {
			if dns.IsSubDomain(p.suffix, host) {
				return p.provider
			}
		}
		if zone != "." && dns.IsSubDomain(zone, host) {
			selfHosted = true
		}
	}

	if selfHosted {
		return domain.ProviderSelfHosted
	}
	return domain.ProviderOther
}
