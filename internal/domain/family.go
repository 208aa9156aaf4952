package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var groupCodeRe = regexp.MustCompile(`^[A-Z0-9-]{4,32}$`)

// FamilyMember is one member of a family group.
type FamilyMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// FamilyGroup is a keyed record of people who check in with each other during a crisis.
type FamilyGroup struct {
	GroupCode string         `json:"groupCode"`
	GroupName string         `json:"groupName"`
	Members   []FamilyMember `json:"members"`
	Status    string         `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NormalizeGroupCode upper-cases and validates a group code.
func NormalizeGroupCode(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !groupCodeRe.MatchString(c) {
		return "", &ValidationError{Field: "groupCode", Reason: "must be 4-32 characters of A-Z, 0-9 or '-'"}
	}
	return c, nil
}

// Validate checks the group fields other than the code.
func (g FamilyGroup) Validate() error {
	if strings.TrimSpace(g.GroupName) == "" {
		return &ValidationError{Field: "groupName", Reason: "is required"}
	}
	for i, m := range g.Members {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Name) == "" {
			return &ValidationError{Field: "members", Reason: "member " + strconv.Itoa(i) + " needs an id and a name"}
		}
	}
	return nil
}
