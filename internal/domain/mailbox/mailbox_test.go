package mailbox

import (
	"testing"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		domain    string
		exchanges []string
		expected  domain.Provider
	}{
		{"Google Workspace", "acme.io", []string{"aspmx.l.google.com.", "alt1.aspmx.l.google.com."}, domain.ProviderGoogle},
		{"Microsoft 365", "contoso.com", []string{"contoso-com.mail.protection.outlook.com"}, domain.ProviderMicrosoft},
		{"Yahoo", "yahoo.com", []string{"mta5.am0.yahoodns.net."}, domain.ProviderYahoo},
		{"Proton", "pm.me", []string{"mail.protonmail.ch."}, domain.ProviderProton},
		{"Fastmail", "example.org", []string{"in1-smtp.messagingengine.com."}, domain.ProviderFastmail},
		{"Mail.ru", "mail.ru", []string{"mxs.mail.ru."}, domain.ProviderMailRu},
		{"Case insensitive", "acme.io", []string{"ASPMX.L.GOOGLE.COM."}, domain.ProviderGoogle},
		{"Self hosted", "example.com", []string{"mx1.example.com."}, domain.ProviderSelfHosted},
		{"Self hosted at apex", "example.com", []string{"example.com"}, domain.ProviderSelfHosted},
		{"Other provider", "example.com", []string{"mx.mailhost.net."}, domain.ProviderOther},
		{"Lookalike suffix is not a subdomain", "example.com", []string{"mx.notgoogle.com."}, domain.ProviderOther},
		{"No records", "example.com", nil, domain.ProviderNone},
		{"Known provider wins over self hosting", "google.com", []string{"smtp.google.com."}, domain.ProviderGoogle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.domain, tt.exchanges))
		})
	}
}
