package lms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field-name candidates per concept, in lookup order. The LMS API surfaces the
// same attribute under different names depending on endpoint and version.
var (
	idKeys        = []string{"id", "uuid", "user_id"}
	emailKeys     = []string{"email", "email_address"}
	firstKeys     = []string{"first_name", "firstName", "given_name"}
	lastKeys      = []string{"last_name", "lastName", "family_name"}
	nameKeys      = []string{"name", "title", "label"}
	statusKeys    = []string{"status", "state"}
	activeAtKeys  = []string{"last_active_at", "last_sign_in_at", "last_activity"}
	countKeys     = []string{"user_count", "members_count", "size"}
	npcuKeys      = []string{"npcu_value", "npcu", "credit_value"}
	categoryKeys  = []string{"product_category", "category"}
	userRefKeys   = []string{"user_id", "learner_id"}
	courseRefKeys = []string{"course_id", "content_id"}
	completedKeys = []string{"completed_at", "completion_date", "finished_at"}
	expiresKeys   = []string{"expires_at", "expiration_date"}
	scoreKeys     = []string{"score", "grade"}
	groupRefKeys  = []string{"group_id", "team_id"}
)

func parseUser(raw map[string]any) (User, error) {
	id := stringField(raw, idKeys)
	email := stringField(raw, emailKeys)
	if id == "" && email == "" {
		return User{}, fmt.Errorf("user record has neither id nor email: keys %v", keysOf(raw))
	}

	status := strings.ToLower(stringField(raw, statusKeys))
	if status == "" {
		status = "active"
	}

	return User{
		ID:           id,
		Email:        strings.ToLower(email),
		FirstName:    stringField(raw, firstKeys),
		LastName:     stringField(raw, lastKeys),
		Status:       status,
		LastActiveAt: timeField(raw, activeAtKeys),
	}, nil
}

func parseGroup(raw map[string]any) (Group, error) {
	id := stringField(raw, idKeys)
	name := stringField(raw, nameKeys)
	if id == "" || name == "" {
		return Group{}, fmt.Errorf("group record missing id or name: keys %v", keysOf(raw))
	}

	return Group{
		ID:        id,
		Name:      name,
		UserCount: intField(raw, countKeys),
	}, nil
}

func parseCourse(raw map[string]any) (Course, error) {
	id := stringField(raw, idKeys)
	name := stringField(raw, nameKeys)
	if id == "" || name == "" {
		return Course{}, fmt.Errorf("course record missing id or name: keys %v", keysOf(raw))
	}

	return Course{
		ID:              id,
		Name:            name,
		NPCUValue:       intField(raw, npcuKeys),
		ProductCategory: stringField(raw, categoryKeys),
	}, nil
}

func parseEnrollment(raw map[string]any) (Enrollment, error) {
	id := stringField(raw, idKeys)
	userID := stringField(raw, userRefKeys)
	courseID := stringField(raw, courseRefKeys)
	if id == "" || userID == "" || courseID == "" {
		return Enrollment{}, fmt.Errorf("enrollment record missing id, user or course: keys %v", keysOf(raw))
	}

	return Enrollment{
		ID:          id,
		UserID:      userID,
		CourseID:    courseID,
		Status:      strings.ToLower(stringField(raw, statusKeys)),
		CompletedAt: timeField(raw, completedKeys),
		ExpiresAt:   timeField(raw, expiresKeys),
		Score:       floatField(raw, scoreKeys),
	}, nil
}

func parseMembership(raw map[string]any, groupID string) (Membership, error) {
	userID := stringField(raw, userRefKeys)
	if userID == "" {
		// Some endpoints return the bare user object as the membership entry.
		userID = stringField(raw, idKeys)
	}
	if userID == "" {
		return Membership{}, fmt.Errorf("membership record has no user reference: keys %v", keysOf(raw))
	}

	gid := stringField(raw, groupRefKeys)
	if gid == "" {
		gid = groupID
	}

	return Membership{GroupID: gid, UserID: userID}, nil
}

// Field extraction helpers. Missing keys yield zero values; type mismatches on
// present keys are tolerated only where a lossless conversion exists.

func stringField(raw map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func intField(raw map[string]any, keys []string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func floatField(raw map[string]any, keys []string) *float64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			f := v
			return &f
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func timeField(raw map[string]any, keys []string) *time.Time {
	for _, k := range keys {
		s, ok := raw[k].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				u := t.UTC()
				return &u
			}
		}
	}
	return nil
}

func keysOf(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	return keys
}
