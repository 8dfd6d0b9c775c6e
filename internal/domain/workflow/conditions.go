package workflow

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	conditionSeparator    = ";"
	maxConditionClauseLen = 1000
	maxConditionClauses   = 50
)

// ParseConditions splits free-text conditions into requirement descriptions, one per
// ';'-delimited clause. Blank clauses are dropped; text with no clause left is malformed.
func ParseConditions(text string) ([]string, error) {
	var clauses []string
	for _, raw := range strings.Split(text, conditionSeparator) {
		clause := strings.TrimSpace(raw)
		if clause == "" {
			continue
		}
		if utf8.RuneCountInString(clause) > maxConditionClauseLen {
			return nil, fmt.Errorf("condition clause %d exceeds %d characters", len(clauses)+1, maxConditionClauseLen)
		}
		clauses = append(clauses, clause)
	}

	if len(clauses) == 0 {
		return nil, fmt.Errorf("conditions contain no requirement clauses")
	}
	if len(clauses) > maxConditionClauses {
		return nil, fmt.Errorf("conditions contain %d clauses, at most %d allowed", len(clauses), maxConditionClauses)
	}
	return clauses, nil
}
