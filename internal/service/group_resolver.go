package service

import (
	"context"
	"fmt"

	"github.com/stemsi/groupquiz-backend/internal/model"
)

// GroupResolver maps a user to the single group through which they take a quiz.
type GroupResolver struct {
	members MembershipService
}

// NewGroupResolver creates a new GroupResolver.
func NewGroupResolver(members MembershipService) *GroupResolver {
	return &GroupResolver{members: members}
}

// Resolve returns the user's group within the quiz grouping. Zero or several
// memberships, or a quiz without a grouping, yield model.ErrAmbiguousOrMissingGroup.
func (r *GroupResolver) Resolve(ctx context.Context, quiz *model.QuizDefinition, userID int64) (int64, error) {
	if quiz.GroupingID == 0 {
		return 0, fmt.Errorf("quiz %d has no grouping: %w", quiz.ID, model.ErrAmbiguousOrMissingGroup)
	}

	groups, err := r.members.GroupsOfUser(ctx, userID, quiz.GroupingID)
	if err != nil {
		return 0, fmt.Errorf("groups of user: %w", err)
	}
	if len(groups) != 1 {
		return 0, fmt.Errorf("user %d is in %d groups: %w", userID, len(groups), model.ErrAmbiguousOrMissingGroup)
	}
	return groups[0], nil
}
