package features

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail performs basic email format validation
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// SplitAddress splits an email address into its lower-cased local part and domain
func SplitAddress(email string) (local, domain string, ok bool) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false // Malformed email address
	}
	return strings.ToLower(email[:at]), strings.ToLower(strings.TrimSuffix(email[at+1:], ".")), true
}

// ExtractLexical measures character classes of the local part
func ExtractLexical(local string) LexicalSignals {
	n := len(local)
	if n == 0 {
		return LexicalSignals{}
	}

	var digits, letters, symbols int
	var run, maxRun int
	seen := make(map[rune]struct{}, n)
	for _, r := range local {
		seen[r] = struct{}{}
		switch {
		case unicode.IsDigit(r):
			digits++
			run++
			maxRun = max(maxRun, run)
			continue
		case unicode.IsLetter(r):
			letters++
		default:
			symbols++
		}
		run = 0
	}

	total := float64(n)
	return LexicalSignals{
		Length:          total,
		DigitRatio:      float64(digits) / total,
		LetterRatio:     float64(letters) / total,
		SymbolRatio:     float64(symbols) / total,
		UniqueCharRatio: float64(len(seen)) / total,
		MaxDigitRun:     float64(maxRun),
		ShannonEntropy:  shannonEntropy(local),
		HasPlus:         strings.Contains(local, "+"),
	}
}

// ExtractLinguistic measures how word-like the local part is
func ExtractLinguistic(local string) LinguisticSignals {
	base := stripPlusTag(local)
	var letters, vowels, run, maxRun, inLongRuns int
	flush := func() {
		if run > 3 {
			inLongRuns += run
		}
		run = 0
	}
	for _, r := range base {
		if !unicode.IsLetter(r) {
			flush()
			continue
		}
		letters++
		if isVowel(r) {
			vowels++
			flush()
			continue
		}
		run++
		maxRun = max(maxRun, run)
	}
	flush()

	if letters == 0 {
		return LinguisticSignals{}
	}
	return LinguisticSignals{
		VowelRatio:        float64(vowels) / float64(letters),
		MaxConsonantRun:   float64(maxRun),
		Pronounceability:  1 - float64(inLongRuns)/float64(letters),
		DictionaryHitRate: dictionaryHitRate(base),
	}
}

// ExtractStructural describes separators, numeric suffixes and plus tags
func ExtractStructural(local string) StructuralSignals {
	base := stripPlusTag(local)
	segments := strings.FieldsFunc(base, isSeparator)
	separators := 0
	for _, r := range base {
		if isSeparator(r) {
			separators++
		}
	}

	suffix := 0
	for i := len(base) - 1; i >= 0 && base[i] >= '0' && base[i] <= '9'; i-- {
		suffix++
	}

	plusTag := 0
	if i := strings.Index(local, "+"); i >= 0 {
		plusTag = len(local) - i - 1
	}

	return StructuralSignals{
		SegmentCount:        float64(len(segments)),
		SeparatorCount:      float64(separators),
		HasNumericSuffix:    suffix > 0 && suffix < len(base),
		NumericSuffixLength: float64(suffix),
		StartsWithDigit:     len(base) > 0 && base[0] >= '0' && base[0] <= '9',
		PlusTagLength:       float64(plusTag),
	}
}

// ExtractStatistical measures the character bigram distribution
func ExtractStatistical(local string) StatisticalSignals {
	if len(local) < 2 {
		return StatisticalSignals{}
	}
	counts := make(map[string]int, len(local))
	for i := 0; i+1 < len(local); i++ {
		counts[local[i:i+2]]++
	}
	total := float64(len(local) - 1)
	var entropy float64
	repeated := 0
	for _, c := range counts {
		p := float64(c) / total
		entropy -= p * math.Log2(p)
		if c > 1 {
			repeated += c
		}
	}
	return StatisticalSignals{
		BigramEntropy:       entropy,
		RepeatedBigramRatio: float64(repeated) / total,
	}
}

// ExtractDomain scores the domain part against TLD risk, provider and
// disposable lists, and look-alikes of major providers
func ExtractDomain(domainName string) DomainSignals {
	d := strings.ToLower(strings.Trim(domainName, "."))
	if d == "" {
		return DomainSignals{}
	}

	suffix, icann := publicsuffix.PublicSuffix(d)
	registrable, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		registrable = d
	}

	depth := 0
	if len(d) > len(registrable) {
		depth = strings.Count(d[:len(d)-len(registrable)], ".")
	}

	sig := DomainSignals{
		Length:         float64(len(d)),
		SubdomainDepth: float64(depth),
		TLDRisk:        tldRisk(suffix, icann),
		IsFreeProvider: isListed(freeProviders, registrable),
		IsDisposable:   isListed(disposableDomains, registrable),
	}
	sig.LookalikeSimilarity = lookalikeSimilarity(registrable)
	sig.Reputation = reputation(sig)
	return sig
}

// lookalikeSimilarity returns the highest similarity to a major provider
// domain, excluding exact matches (which are the provider itself)
func lookalikeSimilarity(registrable string) float64 {
	best := 0.0
	for trusted := range freeProviders {
		if registrable == trusted {
			return 0
		}
		distance := levenshteinDistance(registrable, trusted)
		maxLen := float64(max(len(registrable), len(trusted)))
		similarity := 1.0 - float64(distance)/maxLen
		if similarity > best {
			best = similarity
		}
	}
	// Similarity under the floor is coincidental overlap, not a look-alike
	if best < lookalikeFloor {
		return 0
	}
	return best
}

func reputation(sig DomainSignals) float64 {
	switch {
	case sig.IsDisposable:
		return 1.0
	case sig.IsFreeProvider:
		return 0.1
	case sig.LookalikeSimilarity > 0:
		return math.Max(neutralReputation, sig.LookalikeSimilarity)
	default:
		return neutralReputation
	}
}

func tldRisk(suffix string, icann bool) float64 {
	if risk, ok := tldRiskTable[suffix]; ok {
		return risk
	}
	// Suffixes outside the ICANN section without a dot are not real TLDs
	if !icann && !strings.Contains(suffix, ".") {
		return unknownTLDRisk
	}
	return defaultTLDRisk
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	var entropy float64
	total := float64(len(s))
	for _, count := range counts {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

func dictionaryHitRate(base string) float64 {
	letters := 0
	for _, r := range base {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	covered := make([]bool, len(base))
	for _, word := range commonFragments {
		for i := 0; ; {
			j := strings.Index(base[i:], word)
			if j < 0 {
				break
			}
			for k := i + j; k < i+j+len(word); k++ {
				covered[k] = true
			}
			i += j + 1
		}
	}
	hits := 0
	for i, c := range covered {
		if c && unicode.IsLetter(rune(base[i])) {
			hits++
		}
	}
	return float64(hits) / float64(letters)
}

func stripPlusTag(local string) string {
	if i := strings.Index(local, "+"); i >= 0 {
		return local[:i]
	}
	return local
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

func isSeparator(r rune) bool {
	return r == '.' || r == '_' || r == '-'
}

func isListed(list map[string]struct{}, d string) bool {
	_, ok := list[d]
	return ok
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	// Base cases: if either string is empty, distance is the other string's length
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// Two rolling rows: prev[j] = distance between s1[0:i-1] and s2[0:j]
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // Deletion
				curr[j-1]+1,    // Insertion
				prev[j-1]+cost, // Substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}
