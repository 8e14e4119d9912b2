package sequencer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"openflow/internal/model"

	"github.com/spf13/cast"
)

// Answers maps a step id to the respondent's answer for it
type Answers map[string]interface{}

// Clone returns a shallow copy of the answer map.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// IsVisible evaluates the step condition against the current answers.
// A step whose condition field is still unanswered is shown, and an
// unrecognised operator never hides a step.
func IsVisible(step model.Step, answers Answers) bool {
	cond := step.Condition
	if cond == nil || cond.Field == "" {
		return true
	}

	answer, ok := answers[cond.Field]
	if !ok || answer == nil {
		return true
	}

	switch cond.Operator {
	case model.OpEquals:
		return stringify(answer) == stringify(cond.Value)
	case model.OpNotEquals:
		return stringify(answer) != stringify(cond.Value)
	case model.OpContains:
		return strings.Contains(strings.ToLower(stringify(answer)), strings.ToLower(stringify(cond.Value)))
	case model.OpIsSet:
		return isSet(answer)
	case model.OpIsNotSet:
		return !isSet(answer)
	default:
		return true
	}
}

// VisibleSteps filters steps down to the ones currently shown, keeping authoring order.
func VisibleSteps(steps []model.Step, answers Answers) []model.Step {
	visible := make([]model.Step, 0, len(steps))
	for _, st := range steps {
		if IsVisible(st, answers) {
			visible = append(visible, st)
		}
	}
	return visible
}

func isSet(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return val != ""
	case bool:
		return val
	}
	return true
}

// stringify renders an answer the way it is compared in conditions and
// written to spreadsheet cells. Arrays are comma-joined, objects become JSON.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case []string:
		return strings.Join(val, ",")
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	case map[string]interface{}, Answers:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}

	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// Stringify exposes the answer rendering used by conditions to other packages.
func Stringify(v interface{}) string {
	return stringify(v)
}
