package sequencer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"openflow/internal/model"
	"openflow/internal/storage"

	"github.com/spf13/cast"
)

// ConsentKey is the reserved answer key carrying the end-screen consent flag.
const ConsentKey = "_consent"

// Validation messages shown to respondents.
const (
	MsgRequired     = "Please answer this question."
	MsgConsent      = "You must agree to continue."
	MsgEmail        = "Please enter a valid email address."
	MsgWebsite      = "Please enter a valid URL (starting with http:// or https://)."
	MsgAddress      = "Please fill in street, postal code and city."
	MsgNumber       = "Please enter a number."
	MsgOption       = "Please choose one of the available options."
	MsgFinalConsent = "Please confirm your consent to submit."
	MsgNoSteps      = "This form has no questions."
)

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	websitePattern = regexp.MustCompile(`^https?://.+\..+`)
)

// ValidationError describes the first rule a step answer failed
type ValidationError struct {
	StepID  string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(step model.Step, rule, msg string) *ValidationError {
	return &ValidationError{StepID: step.ID, Rule: rule, Message: msg}
}

// CanAdvance checks a single step answer. Optional steps always pass; type
// rules apply to required steps once an answer is present.
func CanAdvance(step model.Step, answers Answers) error {
	if err := checkStep(step, answers); err != nil {
		return err
	}
	return nil
}

func checkStep(step model.Step, answers Answers) *ValidationError {
	if !step.Required {
		return nil
	}

	val := answers[step.ID]

	if step.Type == model.StepConsent {
		if !truthy(val) {
			return invalid(step, "consent", MsgConsent)
		}
		return nil
	}

	if isEmpty(val) {
		return invalid(step, "required", MsgRequired)
	}

	switch step.Type {
	case model.StepEmail:
		if !emailPattern.MatchString(stringify(val)) {
			return invalid(step, "email", MsgEmail)
		}
	case model.StepWebsite:
		if !websitePattern.MatchString(stringify(val)) {
			return invalid(step, "website", MsgWebsite)
		}
	case model.StepAddress, model.StepContact:
		if !addressComplete(val) {
			return invalid(step, "address", MsgAddress)
		}
	case model.StepNumber, model.StepRating:
		return checkRange(step, val)
	case model.StepSelect, model.StepImageSelect:
		if len(step.Options) > 0 && !hasOption(step.Options, stringify(val)) {
			return invalid(step, "option", MsgOption)
		}
	case model.StepMultiSelect:
		values, err := cast.ToStringSliceE(val)
		if err != nil {
			return invalid(step, "option", MsgOption)
		}
		if len(step.Options) > 0 {
			for _, v := range values {
				if !hasOption(step.Options, v) {
					return invalid(step, "option", MsgOption)
				}
			}
		}
	case model.StepFileUpload:
		file, ok := val.(map[string]interface{})
		if !ok {
			return invalid(step, "file", MsgRequired)
		}
		meta := storage.NormalizeFileAnswer(file)
		if err := storage.ValidateFileAnswer(meta, storage.ParseAccept(step.Accept, step.MaxSizeMB)); err != nil {
			return invalid(step, "file", fmt.Sprintf("Invalid file: %v.", err))
		}
	}

	return nil
}

func checkRange(step model.Step, val interface{}) *ValidationError {
	n, err := cast.ToFloat64E(val)
	if err != nil {
		return invalid(step, "number", MsgNumber)
	}
	switch {
	case step.Min != nil && step.Max != nil && (n < *step.Min || n > *step.Max):
		return invalid(step, "range", fmt.Sprintf("Please enter a value between %s and %s.", formatNum(*step.Min), formatNum(*step.Max)))
	case step.Min != nil && n < *step.Min:
		return invalid(step, "range", fmt.Sprintf("Please enter a value of at least %s.", formatNum(*step.Min)))
	case step.Max != nil && n > *step.Max:
		return invalid(step, "range", fmt.Sprintf("Please enter a value of at most %s.", formatNum(*step.Max)))
	}
	return nil
}

// ValidateSubmission replays visibility and the advancement rules over a
// complete answer map. Hidden steps are never required.
func ValidateSubmission(steps []model.Step, endScreen model.EndScreen, data Answers) error {
	visible := VisibleSteps(steps, data)
	for _, st := range visible {
		if err := checkStep(st, data); err != nil {
			return err
		}
	}
	if endScreen.ConsentEnabled && len(visible) > 0 && !truthy(data[ConsentKey]) {
		return &ValidationError{StepID: ConsentKey, Rule: "final_consent", Message: MsgFinalConsent}
	}
	return nil
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	return true
}

func addressComplete(v interface{}) bool {
	addr, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	for _, key := range []string{"street", "postalCode", "city"} {
		if strings.TrimSpace(stringify(addr[key])) == "" {
			return false
		}
	}
	return true
}

func hasOption(options []model.Option, v string) bool {
	for _, opt := range options {
		if opt.Value == v || opt.Label == v {
			return true
		}
	}
	return false
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
