package features

import (
	"github.com/stoik/email-risk/internal/domain"
)

const (
	maxCount   = 128
	maxEntropy = 16
	maxGap     = 16
)

// Feature names. Models reference these strings directly, so they are part
// of the artifact contract and must not be renamed.
const (
	// Lexical
	LocalLength     = "local_length"
	DigitRatio      = "digit_ratio"
	LetterRatio     = "letter_ratio"
	SymbolRatio     = "symbol_ratio"
	UniqueCharRatio = "unique_char_ratio"
	MaxDigitRun     = "max_digit_run"
	ShannonEntropy  = "shannon_entropy"
	HasPlus         = "has_plus"

	// Linguistic
	VowelRatio        = "vowel_ratio"
	MaxConsonantRun   = "max_consonant_run"
	Pronounceability  = "pronounceability"
	DictionaryHitRate = "dictionary_hit_rate"

	// Structural
	SegmentCount        = "segment_count"
	SeparatorCount      = "separator_count"
	HasNumericSuffix    = "has_numeric_suffix"
	NumericSuffixLength = "numeric_suffix_length"
	StartsWithDigit     = "starts_with_digit"
	PlusTagLength       = "plus_tag_length"

	// Statistical
	BigramEntropy       = "bigram_entropy"
	RepeatedBigramRatio = "repeated_bigram_ratio"

	// Domain
	DomainLength        = "domain_length"
	SubdomainDepth      = "subdomain_depth"
	TLDRiskScore        = "tld_risk_score"
	DomainReputation    = "domain_reputation_score"
	IsFreeProvider      = "is_free_provider"
	IsDisposable        = "is_disposable"
	LookalikeSimilarity = "provider_lookalike_similarity"

	// Geo
	GeoCountryMismatch = "geo_country_mismatch"
	GeoHighRiskCountry = "geo_high_risk_country"
	GeoIsProxy         = "geo_is_proxy"

	// Mail exchange
	MXHasRecords     = "mx_has_records"
	MXRecordCount    = "mx_record_count"
	MXLookupFailed   = "mx_lookup_failed"
	MXProviderPrefix = "mx_provider_"

	// N-gram sequence scorer
	NgramMinEntropy      = "ngram_min_entropy"
	NgramGapPrefix       = "ngram_gap_"
	SequentialConfidence = "sequential_confidence"
	NgramFraudLeaning    = "ngram_fraud_leaning"
)

// NgramGap returns the feature name for the legit/fraud entropy gap of an order
func NgramGap(order int) string {
	switch order {
	case 1:
		return NgramGapPrefix + "1"
	case 2:
		return NgramGapPrefix + "2"
	case 3:
		return NgramGapPrefix + "3"
	default:
		return NgramGapPrefix + "unknown"
	}
}

// MXProvider returns the one-hot feature name for a mailbox provider
func MXProvider(p domain.Provider) string {
	return MXProviderPrefix + string(p)
}

// LexicalSignals are character-level measurements of the local part
type LexicalSignals struct {
	Length          float64
	DigitRatio      float64
	LetterRatio     float64
	SymbolRatio     float64
	UniqueCharRatio float64
	MaxDigitRun     float64
	ShannonEntropy  float64
	HasPlus         bool
}

// LinguisticSignals describe how word-like the local part is
type LinguisticSignals struct {
	VowelRatio        float64
	MaxConsonantRun   float64
	Pronounceability  float64
	DictionaryHitRate float64
}

// StructuralSignals describe how the local part is assembled
type StructuralSignals struct {
	SegmentCount        float64
	SeparatorCount      float64
	HasNumericSuffix    bool
	NumericSuffixLength float64
	StartsWithDigit     bool
	PlusTagLength       float64
}

// StatisticalSignals are distributional measurements over character bigrams
type StatisticalSignals struct {
	BigramEntropy       float64
	RepeatedBigramRatio float64
}

// DomainSignals describe the domain part of the address
type DomainSignals struct {
	Length              float64
	SubdomainDepth      float64
	TLDRisk             float64
	Reputation          float64
	IsFreeProvider      bool
	IsDisposable        bool
	LookalikeSimilarity float64
}

// GeoSignals come from the request context (IP geolocation vs. claimed country)
type GeoSignals struct {
	CountryMismatch bool
	HighRiskCountry bool
	IsProxy         bool
}

// MXSignals summarise the mail-exchange lookup for the domain
type MXSignals struct {
	HasRecords   bool
	RecordCount  float64
	LookupFailed bool
	Provider     domain.Provider
}

// SequenceSignals are produced by the sequence probability scorer
type SequenceSignals struct {
	MinEntropy   float64
	Gaps         map[int]float64
	Confidence   float64
	FraudLeaning bool
}

// RawSignals is the (possibly partial) input to Build.
//
// Lexical and Domain always produce their keys (zero-filled when nil); every
// other group omits its keys when nil.
type RawSignals struct {
	Lexical     *LexicalSignals
	Linguistic  *LinguisticSignals
	Structural  *StructuralSignals
	Statistical *StatisticalSignals
	Domain      *DomainSignals
	Geo         *GeoSignals
	MX          *MXSignals
	Sequence    *SequenceSignals
}

// Build converts raw signals into a sanitized FeatureVector.
// It is a pure function and never fails.
func Build(raw RawSignals) FeatureVector {
	fv := make(FeatureVector, 48)

	lex := raw.Lexical
	if lex == nil {
		lex = &LexicalSignals{}
	}
	fv[LocalLength] = Count(lex.Length)
	fv[DigitRatio] = Ratio(lex.DigitRatio)
	fv[LetterRatio] = Ratio(lex.LetterRatio)
	fv[SymbolRatio] = Ratio(lex.SymbolRatio)
	fv[UniqueCharRatio] = Ratio(lex.UniqueCharRatio)
	fv[MaxDigitRun] = Count(lex.MaxDigitRun)
	fv[ShannonEntropy] = Sanitize(lex.ShannonEntropy, 0, maxEntropy, 0)
	fv[HasPlus] = Bool(lex.HasPlus)

	dom := raw.Domain
	if dom == nil {
		dom = &DomainSignals{}
	}
	fv[DomainLength] = Sanitize(dom.Length, 0, 255, 0)
	fv[SubdomainDepth] = Count(dom.SubdomainDepth)
	fv[TLDRiskScore] = Ratio(dom.TLDRisk)
	fv[DomainReputation] = Ratio(dom.Reputation)
	fv[IsFreeProvider] = Bool(dom.IsFreeProvider)
	fv[IsDisposable] = Bool(dom.IsDisposable)
	fv[LookalikeSimilarity] = Ratio(dom.LookalikeSimilarity)

	if ling := raw.Linguistic; ling != nil {
		fv[VowelRatio] = Ratio(ling.VowelRatio)
		fv[MaxConsonantRun] = Count(ling.MaxConsonantRun)
		fv[Pronounceability] = Ratio(ling.Pronounceability)
		fv[DictionaryHitRate] = Ratio(ling.DictionaryHitRate)
	}

	if st := raw.Structural; st != nil {
		fv[SegmentCount] = Count(st.SegmentCount)
		fv[SeparatorCount] = Count(st.SeparatorCount)
		fv[HasNumericSuffix] = Bool(st.HasNumericSuffix)
		fv[NumericSuffixLength] = Count(st.NumericSuffixLength)
		fv[StartsWithDigit] = Bool(st.StartsWithDigit)
		fv[PlusTagLength] = Count(st.PlusTagLength)
	}

	if stat := raw.Statistical; stat != nil {
		fv[BigramEntropy] = Sanitize(stat.BigramEntropy, 0, maxEntropy, 0)
		fv[RepeatedBigramRatio] = Ratio(stat.RepeatedBigramRatio)
	}

	if geo := raw.Geo; geo != nil {
		fv[GeoCountryMismatch] = Bool(geo.CountryMismatch)
		fv[GeoHighRiskCountry] = Bool(geo.HighRiskCountry)
		fv[GeoIsProxy] = Bool(geo.IsProxy)
	}

	if mx := raw.MX; mx != nil {
		fv[MXHasRecords] = Bool(mx.HasRecords)
		fv[MXRecordCount] = Count(mx.RecordCount)
		fv[MXLookupFailed] = Bool(mx.LookupFailed)
		for _, p := range domain.KnownProviders {
			fv[MXProvider(p)] = Bool(mx.Provider == p)
		}
	}

	if seq := raw.Sequence; seq != nil {
		fv[NgramMinEntropy] = Sanitize(seq.MinEntropy, 0, maxEntropy, 0)
		for order := 1; order <= 3; order++ {
			fv[NgramGap(order)] = Sanitize(seq.Gaps[order], -maxGap, maxGap, 0)
		}
		fv[SequentialConfidence] = Ratio(seq.Confidence)
		fv[NgramFraudLeaning] = Bool(seq.FraudLeaning)
	}

	return fv
}
