package retrieval

import "strings"

// Role → access level. Higher levels see more. Global documents stored under
// project_id "default" are readable at any level within the caller's cap.
const (
	LevelAuditor = 0
	LevelMember  = 1
	LevelAnalyst = 2
	LevelPM      = 3
	LevelPMOHead = 4
	LevelSponsor = 5
	LevelAdmin   = 6
)

var roleLevels = map[string]int{
	"ADMIN":     LevelAdmin,
	"SPONSOR":   LevelSponsor,
	"PMO_HEAD":  LevelPMOHead,
	"PM":        LevelPM,
	"BA":        LevelAnalyst,
	"QA":        LevelAnalyst,
	"DEVELOPER": LevelMember,
	"MEMBER":    LevelMember,
	"AUDITOR":   LevelAuditor,
}

// AccessLevelForRole maps a role name to its document visibility level.
// Unknown roles get the most restrictive level.
func AccessLevelForRole(role string) int {
	if lvl, ok := roleLevels[strings.ToUpper(strings.TrimSpace(role))]; ok {
		return lvl
	}
	return LevelAuditor
}
