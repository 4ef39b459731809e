// Package validation checks incoming payloads before they reach the
// branching engine. Limits are configurable; zero values fall back to
// the defaults below.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"branchdb/pkg/models"
)

type Rules struct {
	MaxContentLen int
	MaxParts      int
	MaxTitleLen   int
}

const (
	defaultMaxContentLen = 1 << 20 // 1MiB of text
	defaultMaxParts      = 64
	defaultMaxTitleLen   = 512
)

var rules Rules

func SetRules(r Rules) { rules = r }

func maxContentLen() int {
	if rules.MaxContentLen > 0 {
		return rules.MaxContentLen
	}
	return defaultMaxContentLen
}

func maxParts() int {
	if rules.MaxParts > 0 {
		return rules.MaxParts
	}
	return defaultMaxParts
}

func maxTitleLen() int {
	if rules.MaxTitleLen > 0 {
		return rules.MaxTitleLen
	}
	return defaultMaxTitleLen
}

var validRoles = map[string]struct{}{
	models.RoleUser:      {},
	models.RoleAssistant: {},
	models.RoleSystem:    {},
	models.RoleTool:      {},
}

var validPartTypes = map[string]struct{}{
	"text": {}, "reasoning": {}, "file": {}, "tool-invocation": {}, "image": {}, "source": {},
}

// ValidateContent checks user-supplied message text and parts.
func ValidateContent(content string, parts []models.Part) error {
	var errs []string
	if len(content) > maxContentLen() {
		errs = append(errs, fmt.Sprintf("content too long: %d > %d", len(content), maxContentLen()))
	}
	if len(parts) > maxParts() {
		errs = append(errs, fmt.Sprintf("too many parts: %d > %d", len(parts), maxParts()))
	}
	for i, p := range parts {
		if p.Type == "" {
			errs = append(errs, fmt.Sprintf("parts[%d]: type is required", i))
			continue
		}
		if _, ok := validPartTypes[p.Type]; !ok {
			errs = append(errs, fmt.Sprintf("parts[%d]: unknown type %q", i, p.Type))
		}
		if len(p.Text) > maxContentLen() {
			errs = append(errs, fmt.Sprintf("parts[%d]: text too long", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateRole checks the role enum.
func ValidateRole(role string) error {
	if _, ok := validRoles[role]; !ok {
		return fmt.Errorf("invalid role: %q", role)
	}
	return nil
}

// ValidateTitle checks a conversation title.
func ValidateTitle(title string) error {
	if len(title) > maxTitleLen() {
		return fmt.Errorf("title too long: %d > %d", len(title), maxTitleLen())
	}
	return nil
}

// ValidateFeedbackRating checks the feedback rating enum.
func ValidateFeedbackRating(rating string) error {
	switch rating {
	case "positive", "negative":
		return nil
	}
	return fmt.Errorf("invalid rating: %q", rating)
}
