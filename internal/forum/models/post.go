package models

import "time"

// MailStatus 帖子通知状态
type MailStatus int

const (
	MailPending MailStatus = 0 // 待发送
	MailSuccess MailStatus = 1 // 已认领/已发送
	MailError   MailStatus = 2 // 发送中出现错误
)

// Post 帖子
type Post struct {
	ID           int64      `bson:"_id"`
	DiscussionID int64      `bson:"discussion_id"`
	ParentID     int64      `bson:"parent_id"` // 0 表示话题首帖
	UserID       int64      `bson:"user_id"`
	Subject      string     `bson:"subject"`
	Message      string     `bson:"message"`
	Created      time.Time  `bson:"created"`
	Modified     time.Time  `bson:"modified"`
	Mailed       MailStatus `bson:"mailed"`
	MailNow      bool       `bson:"mail_now"`
}

// IsRoot 是否为话题首帖
func (p *Post) IsRoot() bool {
	return p.ParentID == 0
}
