package models

// GroupMode 课程模块分组模式
type GroupMode int

const (
	GroupModeNone     GroupMode = 0 // 不分组
	GroupModeSeparate GroupMode = 1 // 分隔小组：只能看到本组
	GroupModeVisible  GroupMode = 2 // 可视小组
)

// Course 课程
type Course struct {
	ID        int64  `bson:"_id"`
	ShortName string `bson:"short_name"`
	FullName  string `bson:"full_name"`
}

// CourseModule 课程中的论坛实例
type CourseModule struct {
	ID        int64     `bson:"_id"`
	CourseID  int64     `bson:"course_id"`
	ForumID   int64     `bson:"forum_id"`
	GroupMode GroupMode `bson:"group_mode"`
	Visible   bool      `bson:"visible"`
}

// SeparateGroups 是否为分隔小组模式
func (cm *CourseModule) SeparateGroups() bool {
	return cm != nil && cm.GroupMode == GroupModeSeparate
}
