// Package extract parses the presentation HTML returned by the prediction
// endpoint into typed records. Every function tolerates missing or extra
// fragments: unmatched text is skipped and zero matches is not an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

type ConditionPrediction struct {
	Condition  string  `json:"condition"`
	Percentage float64 `json:"percentage"`
}

type DrugRecommendation struct {
	Drug        string  `json:"drug"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviews"`
	UsefulVotes int     `json:"useful_votes"`
	SideEffects string  `json:"side_effects"`
}

const hexColor = `#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})`

var (
	conditionRe = regexp.MustCompile(`<strong style='color:` + hexColor + `;'>([^<]+)</strong>: ([0-9.]+)%`)

	predictedRe = regexp.MustCompile(`<p style='color:` + hexColor + `; font-size:1\.2em; font-weight:bold;'>([^<]+)</p>`)

	drugRe = regexp.MustCompile(`<strong style='color:` + hexColor + `; font-size:1\.1em;'>([^<]+)</strong><br>` +
		`Rating: <em style='color:#ffcc00;'>([0-9.]+)</em> from <em style='color:#ffcc00;'>([0-9]+)</em> reviews<br>` +
		`Useful Votes: <em style='color:#ffcc00;'>([0-9]+)</em><br>` +
		`Side Effects: <em style='color:#ffcc00;'>([^<]+)</em>`)
)

// ConditionPredictions returns every "<strong>Name</strong>: NN.N%" pair in
// source order.
func ConditionPredictions(html string) []ConditionPrediction {
	var out []ConditionPrediction
	for _, m := range conditionRe.FindAllStringSubmatch(html, -1) {
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		out = append(out, ConditionPrediction{Condition: name, Percentage: pct})
	}
	return out
}

// PredictedCondition returns the bolded primary condition, if present.
func PredictedCondition(html string) (string, bool) {
	m := predictedRe.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// RecommendedDrugs returns the drug blocks in source order. Numeric fields are
// taken as-is; a block whose numbers do not parse is skipped.
func RecommendedDrugs(html string) []DrugRecommendation {
	var out []DrugRecommendation
	for _, m := range drugRe.FindAllStringSubmatch(html, -1) {
		rating, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		reviews, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		votes, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}
		out = append(out, DrugRecommendation{
			Drug:        strings.TrimSpace(m[1]),
			Rating:      rating,
			ReviewCount: reviews,
			UsefulVotes: votes,
			SideEffects: strings.TrimSpace(m[5]),
		})
	}
	return out
}
