package gate

import (
	"fmt"
	"strconv"
	"strings"
)

// Labeled fields produced by validation prompts. Responses carry one
// "FIELD: YES|NO" line per field.
const (
	FieldTitleMatch        = "TITLE_MATCH"
	FieldObjectivesMatch   = "OBJECTIVES_MATCH"
	FieldLearningMatch     = "LEARNING_MATCH"
	FieldExpertDetails     = "EXPERT_DETAILS"
	FieldParticipantsValid = "PARTICIPANTS_VALID"
	FieldThemeAlignment    = "THEME_ALIGNMENT"
	FieldHasBanner         = "HAS_BANNER"
	FieldBannerTextMatches = "BANNER_TEXT_MATCHES"
	FieldIsRealEvent       = "IS_REAL_EVENT"
	FieldModeMatches       = "MODE_MATCHES"
	FieldParticipantCount  = "PARTICIPANT_COUNT"
	FieldReasoning         = "REASONING"
)

// ParseVerdict interprets a bare YES/NO response. Anything other than an
// exact YES or NO after trimming is a malformed response: a model that
// hedges ("probably yes") must not be silently treated as an answer.
func ParseVerdict(body string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(body)) {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, &PermanentError{
			Kind: KindMalformedResponse,
			Err:  fmt.Errorf("expected YES or NO, got %q", truncate(body, 80)),
		}
	}
}

// ParseLabeledFields extracts "FIELD: YES|NO" lines from a response body.
// Lines with unknown labels are ignored; a required field that is missing
// or carries a value other than YES/NO makes the response malformed.
func ParseLabeledFields(body string, required []string) (map[string]bool, error) {
	fields := make(map[string]bool)

	for _, line := range strings.Split(body, "\n") {
		label, value, ok := splitLabeled(line)
		if !ok {
			continue
		}
		switch strings.ToUpper(value) {
		case "YES":
			fields[label] = true
		case "NO":
			fields[label] = false
		}
	}

	for _, label := range required {
		if _, ok := fields[label]; !ok {
			return nil, &PermanentError{
				Kind: KindMalformedResponse,
				Err:  fmt.Errorf("missing or invalid field %s in response %q", label, truncate(body, 120)),
			}
		}
	}
	return fields, nil
}

// ParseLabeledInt extracts a "FIELD: <number>" line from a response body.
func ParseLabeledInt(body, label string) (int, error) {
	for _, line := range strings.Split(body, "\n") {
		gotLabel, value, ok := splitLabeled(line)
		if !ok || gotLabel != label {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, &PermanentError{
				Kind: KindMalformedResponse,
				Err:  fmt.Errorf("field %s is not a number: %q", label, value),
			}
		}
		return n, nil
	}
	return 0, &PermanentError{
		Kind: KindMalformedResponse,
		Err:  fmt.Errorf("missing field %s in response %q", label, truncate(body, 120)),
	}
}

// ParseLabeledText extracts the free-text value of a labeled line, such as
// a REASONING field. Returns an empty string when the label is absent.
func ParseLabeledText(body, label string) string {
	for _, line := range strings.Split(body, "\n") {
		gotLabel, value, ok := splitLabeled(line)
		if ok && gotLabel == label {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// splitLabeled parses one "LABEL: value" line. Labels are upper-case
// words possibly joined by underscores.
func splitLabeled(line string) (label, value string, ok bool) {
	label, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	label = strings.TrimSpace(label)
	if label == "" || strings.ToUpper(label) != label {
		return "", "", false
	}
	for _, r := range label {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "", "", false
		}
	}
	return label, strings.TrimSpace(value), true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
