package skills

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// ClaimCheck is the per-claim result from validate-evidence.
type ClaimCheck struct {
	Claim     string  `json:"claim"`
	Supported bool    `json:"supported"`
	Overlap   float64 `json:"overlap"`
	SourceID  string  `json:"source_id,omitempty"`
}

const claimOverlapThreshold = 0.3

// ValidateEvidence builds the validate-evidence skill: every claim sentence
// must overlap at least one supporting chunk above the threshold.
// Input: claims (text or []string), chunks [{chunk_id, content}].
func ValidateEvidence() *Skill {
	return &Skill{
		Name:        "validate-evidence",
		Category:    CategoryValidate,
		Version:     "1.0",
		Description: "claim-to-evidence keyword overlap check",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			claims := stringSlice(input["claims"])
			if len(claims) == 0 {
				if text := stringArg(input, "claims"); text != "" {
					claims = splitClaims(text)
				} else if text := stringArg(input, "input"); text != "" {
					claims = splitClaims(text)
				}
			}
			if len(claims) == 0 {
				return &Output{Error: "claims are required"}, nil
			}
			chunks := mapSlice(input["chunks"])

			checks := make([]ClaimCheck, 0, len(claims))
			supported := 0
			for _, claim := range claims {
				check := ClaimCheck{Claim: claim}
				claimTerms := contentTerms(claim)
				for _, chunk := range chunks {
					content, _ := chunk["content"].(string)
					overlap := termOverlap(claimTerms, contentTerms(content))
					if overlap > check.Overlap {
						check.Overlap = overlap
						check.SourceID, _ = chunk["chunk_id"].(string)
					}
				}
				check.Supported = check.Overlap >= claimOverlapThreshold
				if check.Supported {
					supported++
				}
				checks = append(checks, check)
			}

			allSupported := supported == len(claims)
			out := &Output{
				Result: map[string]any{
					"all_supported": allSupported,
					"checks":        checks,
				},
				Confidence: float64(supported) / float64(len(claims)),
				Metadata: map[string]any{
					"claim_count":     len(claims),
					"supported_count": supported,
				},
			}
			if !allSupported {
				out.Metadata["verdict"] = "insufficient evidence"
			}
			return out, nil
		},
	}
}

// Roles and the actions each may take. The access-level ladder is enforced
// separately at retrieval time; this matrix governs tool-facing actions.
var rolePermissions = map[string]map[string]bool{
	"ADMIN":     {"read": true, "write": true, "approve": true, "configure": true},
	"SYSTEM":    {"read": true, "write": true, "approve": true, "configure": true},
	"PMO_HEAD":  {"read": true, "write": true, "approve": true},
	"PM":        {"read": true, "write": true, "approve": true},
	"DEVELOPER": {"read": true, "write": true},
	"QA":        {"read": true, "write": true},
	"VIEWER":    {"read": true},
	"AUDITOR":   {"read": true},
}

// Actions that additionally require an approval-capable role regardless of
// the action verb.
var sensitiveResources = []string{"budget", "contract", "credential", "salary", "personnel"}

var sensitiveFields = []string{"password", "password_hash", "secret", "api_key", "token", "salary", "주민등록번호"}

// ValidatePolicy builds the validate-policy skill: role matrix + action +
// resource + authority level + sensitive-field scan.
// Input: role, action, resource, payload?, authority_level?.
func ValidatePolicy() *Skill {
	return &Skill{
		Name:        "validate-policy",
		Category:    CategoryValidate,
		Version:     "1.0",
		Description: "role and resource policy decision with sensitive-field scan",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			role := strings.ToUpper(stringArg(input, "role"))
			action := strings.ToLower(stringArg(input, "action"))
			resource := strings.ToLower(stringArg(input, "resource"))
			if role == "" || action == "" {
				return &Output{Error: "role and action are required"}, nil
			}

			var violations []string
			perms, known := rolePermissions[role]
			switch {
			case !known:
				violations = append(violations, fmt.Sprintf("unknown role %q", role))
			case !perms[action]:
				violations = append(violations, fmt.Sprintf("role %s may not %s", role, action))
			}

			if resource != "" && isSensitiveResource(resource) && !perms["approve"] {
				violations = append(violations, fmt.Sprintf("resource %q requires an approval-capable role", resource))
			}

			if payload, ok := input["payload"].(map[string]any); ok {
				for _, field := range sensitiveFieldsIn(payload) {
					violations = append(violations, fmt.Sprintf("payload exposes sensitive field %q", field))
				}
			}

			allowed := len(violations) == 0
			conf := 1.0
			if !known {
				conf = 0.7
			}
			return &Output{
				Result: map[string]any{
					"allowed":    allowed,
					"violations": violations,
				},
				Confidence: conf,
				Metadata:   map[string]any{"role": role, "action": action, "resource": resource},
			}, nil
		},
	}
}

func isSensitiveResource(resource string) bool {
	for _, s := range sensitiveResources {
		if strings.Contains(resource, s) {
			return true
		}
	}
	return false
}

func sensitiveFieldsIn(payload map[string]any) []string {
	var found []string
	for key, val := range payload {
		lower := strings.ToLower(key)
		for _, s := range sensitiveFields {
			if strings.Contains(lower, s) {
				found = append(found, key)
				break
			}
		}
		if nested, ok := val.(map[string]any); ok {
			found = append(found, sensitiveFieldsIn(nested)...)
		}
	}
	return found
}

func splitClaims(text string) []string {
	var claims []string
	for _, candidate := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s := strings.TrimSpace(candidate); len(s) > 10 {
			claims = append(claims, s)
		}
	}
	return claims
}

// contentTerms lowercases and keeps words long enough to carry meaning.
func contentTerms(text string) map[string]bool {
	terms := map[string]bool{}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(word)) >= 3 {
			terms[word] = true
		}
	}
	return terms
}

func termOverlap(claim, chunk map[string]bool) float64 {
	if len(claim) == 0 {
		return 0
	}
	hits := 0
	for term := range claim {
		if chunk[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(claim))
}
