package regex

// units.go externalises the unit and denominator vocabularies consumed by
// the numeric parsers as Go data, per the pipeline's resolved design
// question on unit normalisation: the vocabulary is part of each parser's
// definition, not a per-deployment setting.

// UnitConversion names a parser's canonical unit and the multiplier that
// converts each recognised source unit spelling into it.
type UnitConversion struct {
	CanonicalUnit string
	Multipliers   map[string]float64 // lowercase unit spelling -> multiplier to CanonicalUnit
}

// DenominatorRule bounds the denominators a cognitive-test-style parser
// accepts as plausible (e.g. MMSE is scored out of 30; "25/29" names a
// denominator no real MMSE administration produces).
type DenominatorRule struct {
	Allowed []int
}

func (r DenominatorRule) permits(denominator int) bool {
	for _, d := range r.Allowed {
		if d == denominator {
			return true
		}
	}
	return false
}

// unitProfiles maps a processor's configured unit_profile name to its
// UnitConversion. CRP is the only one in the concrete scenarios spec.md
// names; add siblings here as new numeric-unit processors are configured.
var unitProfiles = map[string]UnitConversion{
	"crp": {
		CanonicalUnit: "mg/L",
		Multipliers: map[string]float64{
			"mg/l":  1.0,
			"mg/dl": 10.0, // 1 mg/dL == 10 mg/L
		},
	},
}

// denominatorProfiles maps a processor's configured denominator_profile
// name to its DenominatorRule.
var denominatorProfiles = map[string]DenominatorRule{
	"mmse": {Allowed: []int{30}},
}
