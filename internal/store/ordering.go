package store

import (
	"sort"
	"strings"

	"qms/queue-dashboard/internal/models"
)

// NextPosition is one past the highest waiting position, 1 for an empty queue.
func NextPosition(waiting []models.Token) int {
	max := 0
	for _, token := range waiting {
		if token.Status == models.StatusWaiting && token.Position > max {
			max = token.Position
		}
	}
	return max + 1
}

// AtHead reports whether token is the next one to be served.
func AtHead(token models.Token) bool {
	return token.Status == models.StatusWaiting && token.Position == 1
}

func SortByPosition(tokens []models.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Position != tokens[j].Position {
			return tokens[i].Position < tokens[j].Position
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

// PlanReorder validates that ordered names exactly the waiting set and returns
// the new position of every token.
func PlanReorder(waiting []models.Token, ordered []string) (map[string]int, error) {
	current := make(map[string]struct{}, len(waiting))
	for _, token := range waiting {
		current[token.ID] = struct{}{}
	}
	plan := make(map[string]int, len(ordered))
	for i, raw := range ordered {
		id := strings.TrimSpace(raw)
		if _, seen := plan[id]; seen {
			return nil, ErrDuplicateToken
		}
		if _, ok := current[id]; !ok {
			return nil, ErrStaleOrder
		}
		plan[id] = i + 1
	}
	if len(plan) != len(current) {
		return nil, ErrStaleOrder
	}
	return plan, nil
}

// PlanMove returns the positions that change when tokenID moves to position.
func PlanMove(waiting []models.Token, tokenID string, position int) (map[string]int, error) {
	ordered := make([]models.Token, len(waiting))
	copy(ordered, waiting)
	SortByPosition(ordered)

	from := -1
	for i, token := range ordered {
		if token.ID == tokenID {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, ErrInvalidState
	}
	if position < 1 || position > len(ordered) {
		return nil, ErrInvalidPosition
	}

	moved := ordered[from]
	ordered = append(ordered[:from], ordered[from+1:]...)
	to := position - 1
	ordered = append(ordered[:to], append([]models.Token{moved}, ordered[to:]...)...)

	plan := make(map[string]int)
	for i, token := range ordered {
		if token.Position != i+1 {
			plan[token.ID] = i + 1
		}
	}
	return plan, nil
}

// HeadOf returns the token that holds position 1 after plan is applied.
func HeadOf(waiting []models.Token, plan map[string]int) string {
	for id, position := range plan {
		if position == 1 {
			return id
		}
	}
	for _, token := range waiting {
		if token.Position == 1 {
			return token.ID
		}
	}
	return ""
}
