package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// GroupRepository reads course groups, groupings and memberships.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// GroupsOfUser returns the groups of the grouping that the user belongs to.
func (r *GroupRepository) GroupsOfUser(ctx context.Context, userID, groupingID int64) ([]int64, error) {
	return r.ids(ctx, "groups of user",
		`SELECT gg.group_id
		 FROM grouping_groups gg
		 JOIN group_members m ON m.group_id = gg.group_id
		 WHERE gg.grouping_id = $1 AND m.user_id = $2
		 ORDER BY gg.group_id`, groupingID, userID)
}

// MembersOfGroup returns the user ids of a group's current members.
func (r *GroupRepository) MembersOfGroup(ctx context.Context, groupID int64) ([]int64, error) {
	return r.ids(ctx, "members of group",
		`SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, groupID)
}

// GroupsInGrouping lists the groups of a grouping.
func (r *GroupRepository) GroupsInGrouping(ctx context.Context, groupingID int64) ([]model.Group, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.course_id, g.name
		 FROM grouping_groups gg
		 JOIN course_groups g ON g.id = gg.group_id
		 WHERE gg.grouping_id = $1
		 ORDER BY g.name, g.id`, groupingID)
	if err != nil {
		return nil, model.Storage("groups in grouping", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.CourseID, &g.Name); err != nil {
			return nil, model.Storage("scan group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("groups in grouping", err)
	}
	return groups, nil
}

func (r *GroupRepository) ids(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.Storage(op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, model.Storage(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage(op, err)
	}
	return ids, nil
}
