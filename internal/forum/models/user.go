package models

// 站点角色
const (
	SiteRoleAdmin = "admin" // 站点管理员，拥有全部权限
	SiteRoleUser  = "user"  // 普通用户
)

// 课程角色
const (
	RoleManager        = "manager"
	RoleEditingTeacher = "editingteacher"
	RoleTeacher        = "teacher"
	RoleStudent        = "student"
	RoleGuest          = "guest"
)

// Enrolment 课程选课信息
type Enrolment struct {
	CourseID  int64  `bson:"course_id"`
	Role      string `bson:"role"`
	Suspended bool   `bson:"suspended,omitempty"`
}

// User 用户模型
type User struct {
	ID                     int64       `bson:"_id"`
	Username               string      `bson:"username"`
	Email                  string      `bson:"email"`
	FirstName              string      `bson:"first_name"`
	LastName               string      `bson:"last_name,omitempty"`
	SiteRole               string      `bson:"site_role"`
	Enrolments             []Enrolment `bson:"enrolments,omitempty"`
	Groups                 []int64     `bson:"groups,omitempty"`
	MailDigest             int         `bson:"mail_digest"`               // 全局摘要设置
	TrackForums            bool        `bson:"track_forums"`              // 是否跟踪阅读
	MarkReadOnNotification bool        `bson:"mark_read_on_notification"` // 发送通知后标记已读
	TelegramChatID         int64       `bson:"telegram_chat_id,omitempty"`
	EmailStop              bool        `bson:"email_stop,omitempty"` // 停止邮件
	Deleted                bool        `bson:"deleted,omitempty"`
	Suspended              bool        `bson:"suspended,omitempty"`
	Guest                  bool        `bson:"guest,omitempty"`
}

// IsAdmin 是否为站点管理员
func (u *User) IsAdmin() bool {
	return u != nil && u.SiteRole == SiteRoleAdmin
}

// IsGuest 是否为访客或匿名用户
func (u *User) IsGuest() bool {
	return u == nil || u.ID <= 0 || u.Guest
}

// Active 账号是否可用
func (u *User) Active() bool {
	return u != nil && !u.Deleted && !u.Suspended
}

// FullName 显示名
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// EnrolledIn 返回课程角色，未选课返回空串
func (u *User) EnrolledIn(courseID int64) string {
	if u == nil {
		return ""
	}
	for _, e := range u.Enrolments {
		if e.CourseID == courseID && !e.Suspended {
			return e.Role
		}
	}
	return ""
}

// InGroup 是否为小组成员
func (u *User) InGroup(groupID int64) bool {
	if u == nil {
		return false
	}
	for _, g := range u.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}
