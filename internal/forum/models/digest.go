package models

import "time"

// 摘要级别
const (
	DigestDefault  = -1 // 使用用户全局设置
	DigestNone     = 0  // 立即发送
	DigestFull     = 1  // 完整摘要
	DigestSubjects = 2  // 仅标题
)

// DigestPreference 用户在某论坛的摘要设置
type DigestPreference struct {
	UserID     int64 `bson:"user_id"`
	ForumID    int64 `bson:"forum_id"`
	MailDigest int   `bson:"mail_digest"`
}

// DigestQueueEntry 摘要队列项
type DigestQueueEntry struct {
	UserID       int64     `bson:"user_id"`
	DiscussionID int64     `bson:"discussion_id"`
	PostID       int64     `bson:"post_id"`
	TimeModified time.Time `bson:"time_modified"`
}
