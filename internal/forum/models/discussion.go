package models

import "time"

// AllGroups 话题对所有小组可见
const AllGroups int64 = -1

// Discussion 讨论话题
type Discussion struct {
	ID           int64     `bson:"_id"`
	ForumID      int64     `bson:"forum_id"`
	CourseID     int64     `bson:"course_id"`
	GroupID      int64     `bson:"group_id"`
	FirstPostID  int64     `bson:"first_post_id"`
	UserID       int64     `bson:"user_id"`
	Name         string    `bson:"name"`
	TimeModified time.Time `bson:"time_modified"`
	TimeStart    time.Time `bson:"time_start,omitempty"` // 零值表示不限制
	TimeEnd      time.Time `bson:"time_end,omitempty"`   // 零值表示不限制
}

// IsTimed 是否设置了展示时间窗口
func (d *Discussion) IsTimed() bool {
	return !d.TimeStart.IsZero() || !d.TimeEnd.IsZero()
}

// VisibleAt 时间窗口内是否可见
func (d *Discussion) VisibleAt(now time.Time) bool {
	if !d.TimeStart.IsZero() && now.Before(d.TimeStart) {
		return false
	}
	if !d.TimeEnd.IsZero() && !now.Before(d.TimeEnd) {
		return false
	}
	return true
}

// ForAllGroups 是否对所有小组开放
func (d *Discussion) ForAllGroups() bool {
	return d.GroupID <= 0
}
