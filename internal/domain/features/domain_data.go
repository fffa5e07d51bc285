package features

const (
	defaultTLDRisk    = 0.1
	unknownTLDRisk    = 0.8
	neutralReputation = 0.3
	lookalikeFloor    = 0.8
)

// tldRiskTable holds TLDs with a track record of abuse. Unlisted ICANN
// suffixes get defaultTLDRisk.
var tldRiskTable = map[string]float64{
	"com": 0, "net": 0, "org": 0, "edu": 0, "gov": 0, "mil": 0,
	"io": 0.05, "co": 0.05, "me": 0.05, "dev": 0.05, "app": 0.05,
	"tk": 0.95, "ml": 0.9, "ga": 0.9, "cf": 0.9, "gq": 0.9,
	"zip": 0.9, "mov": 0.85, "loan": 0.9, "top": 0.8, "icu": 0.8,
	"click": 0.75, "xyz": 0.7, "buzz": 0.7, "cam": 0.7, "cyou": 0.7,
	"sbs": 0.7, "monster": 0.6, "rest": 0.6, "work": 0.6, "bid": 0.75,
	"win": 0.75, "download": 0.8, "party": 0.7, "review": 0.65, "country": 0.7,
}

var freeProviders = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "outlook.com": {}, "hotmail.com": {},
	"live.com": {}, "msn.com": {}, "yahoo.com": {}, "ymail.com": {},
	"icloud.com": {}, "me.com": {}, "aol.com": {}, "proton.me": {},
	"protonmail.com": {}, "gmx.com": {}, "gmx.de": {}, "mail.ru": {},
	"yandex.ru": {}, "zoho.com": {}, "fastmail.com": {}, "mail.com": {},
}

var disposableDomains = map[string]struct{}{
	"mailinator.com": {}, "guerrillamail.com": {}, "10minutemail.com": {},
	"tempmail.com": {}, "temp-mail.org": {}, "yopmail.com": {},
	"trashmail.com": {}, "sharklasers.com": {}, "getnada.com": {},
	"dispostable.com": {}, "maildrop.cc": {}, "throwawaymail.com": {},
	"fakeinbox.com": {}, "mintemail.com": {}, "emailondeck.com": {},
}

// commonFragments are frequent name and role fragments in legitimate local parts
var commonFragments = []string{
	"john", "mike", "anna", "maria", "david", "james", "sarah", "paul",
	"chris", "alex", "laura", "peter", "smith", "brown", "jones", "miller",
	"info", "contact", "admin", "sales", "support", "hello", "office", "team",
	"mail", "news", "billing", "jobs", "service", "help",
}
