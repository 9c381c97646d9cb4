// Package diagnosis runs a symptom description through the prediction model
// and two chat-based verification passes and reconciles the answers.
package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"medisense/internal/extract"
	"medisense/internal/gradio"
	"medisense/internal/history"
)

var (
	ErrEmptySymptoms = errors.New("Please describe your symptoms")
	// ErrVerificationDegraded marks a verification pass whose answer could not
	// be used. It is logged, never returned to callers of Run.
	ErrVerificationDegraded = errors.New("verification degraded to model output")
)

type Predictor interface {
	Predict(ctx context.Context, symptoms string) (gradio.Prediction, error)
}

// Verifier answers the verification prompts with a chat echo.
type Verifier interface {
	Chat(ctx context.Context, message string, history []gradio.Turn) (json.RawMessage, error)
}

// Recorder persists the displayed condition.
type Recorder interface {
	Save(ctx context.Context, email, symptoms, condition string) (history.Record, error)
}

type Result struct {
	Symptoms   string
	Condition  string
	Conditions []extract.ConditionPrediction
	Drugs      []extract.DrugRecommendation

	// ModelCondition is what the prediction endpoint picked before
	// verification.
	ModelCondition     string
	ConditionVerified  bool
	ConditionsVerified bool
	// InsufficientSymptoms is set when the verification model declined to
	// name a condition.
	InsufficientSymptoms bool

	// Saved is nil when the result was not persisted.
	Saved *history.Record
}

// DrugsLink points at a drugs.com search for the displayed condition.
func (r Result) DrugsLink() string {
	return DrugsSearchURL(r.Condition)
}

// componentEscaper undoes the escapes that url.QueryEscape adds on top of the
// URI component rules, where these marks are left as they are.
var componentEscaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func DrugsSearchURL(condition string) string {
	return "https://www.drugs.com/search.php?searchterm=" + componentEscaper.Replace(url.QueryEscape(condition))
}

type Pipeline struct {
	predictor Predictor
	verifier  Verifier
	recorder  Recorder
}

// New builds a pipeline. recorder may be nil.
func New(predictor Predictor, verifier Verifier, recorder Recorder) *Pipeline {
	return &Pipeline{predictor: predictor, verifier: verifier, recorder: recorder}
}

// Run predicts, verifies and reconciles. Only a failure of the primary
// prediction is returned; verification and persistence problems are logged.
func (p *Pipeline) Run(ctx context.Context, email, symptoms string) (Result, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return Result{}, ErrEmptySymptoms
	}

	pred, err := p.predictor.Predict(ctx, symptoms)
	if err != nil {
		return Result{}, err
	}
	modelConditions := extract.ConditionPredictions(pred.ConditionsHTML)
	modelCondition, _ := extract.PredictedCondition(pred.PrimaryHTML)
	res := Result{
		Symptoms:       symptoms,
		ModelCondition: modelCondition,
		Drugs:          extract.RecommendedDrugs(pred.DrugsHTML),
	}

	verified, err := p.verifySingle(ctx, symptoms)
	if err != nil {
		log.Printf("⚠️ Condition verification: %v", err)
	}
	ranked, err := p.verifyRanked(ctx, symptoms)
	if err != nil {
		log.Printf("⚠️ Condition predictions verification: %v", err)
	}

	res.Condition, res.ConditionVerified = reconcileCondition(verified, modelCondition)
	res.InsufficientSymptoms = verified == InsufficientSymptoms
	res.Conditions, res.ConditionsVerified = reconcileConditions(ranked, modelConditions)

	if p.recorder != nil {
		rec, err := p.recorder.Save(ctx, email, symptoms, res.Condition)
		switch {
		case errors.Is(err, history.ErrPersistenceSkipped):
			log.Printf("⚠️ %v", err)
		case err != nil:
			log.Printf("❌ Failed to save prediction: %v", err)
		default:
			res.Saved = &rec
		}
	}
	return res, nil
}

// verifySingle asks for one condition name. The answer is cut to its first
// line and first sentence.
func (p *Pipeline) verifySingle(ctx context.Context, symptoms string) (string, error) {
	text, err := p.ask(ctx, singleConditionPrompt(symptoms))
	if err != nil {
		return "", err
	}
	condition := firstSentence(text)
	if condition == "" {
		return "", fmt.Errorf("%w: empty condition", ErrVerificationDegraded)
	}
	log.Printf("🔎 Verified condition from chat model: %s", condition)
	return condition, nil
}

func firstSentence(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var rankedLine = regexp.MustCompile(`(.+?):\s*(\d+)%`)

func (p *Pipeline) verifyRanked(ctx context.Context, symptoms string) ([]extract.ConditionPrediction, error) {
	text, err := p.ask(ctx, rankedConditionsPrompt(symptoms))
	if err != nil {
		return nil, err
	}
	out := ParseRanked(text)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no condition lines in answer", ErrVerificationDegraded)
	}
	log.Printf("🔎 Verified %d condition predictions from chat model", len(out))
	return out, nil
}

// ParseRanked reads "Condition: NN%" lines. Lines that do not match are
// dropped; count and sum are not checked.
func ParseRanked(text string) []extract.ConditionPrediction {
	var out []extract.ConditionPrediction
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		m := rankedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, extract.ConditionPrediction{Condition: strings.TrimSpace(m[1]), Percentage: pct})
	}
	return out
}

// ask sends a one-off prompt with an empty history and returns the newest bot
// message of the echo.
func (p *Pipeline) ask(ctx context.Context, prompt string) (string, error) {
	data, err := p.verifier.Chat(ctx, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationDegraded, err)
	}
	text, ok := gradio.LastBotMessage(data)
	if !ok {
		return "", fmt.Errorf("%w: unexpected chat echo", ErrVerificationDegraded)
	}
	return text, nil
}

// reconcileCondition prefers the verified name. The INSUFFICIENT_SYMPTOMS
// sentinel is never shown as a condition: the model's prediction is used
// instead and Result.InsufficientSymptoms tells the caller why.
func reconcileCondition(verified, model string) (string, bool) {
	if verified != "" && verified != InsufficientSymptoms {
		return verified, true
	}
	return model, false
}

func reconcileConditions(verified, model []extract.ConditionPrediction) ([]extract.ConditionPrediction, bool) {
	if len(verified) > 0 {
		return verified, true
	}
	return model, false
}
