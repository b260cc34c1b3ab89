package models

import "time"

// ReadRecord 阅读记录，(user_id, post_id) 唯一
type ReadRecord struct {
	UserID       int64     `bson:"user_id"`
	PostID       int64     `bson:"post_id"`
	DiscussionID int64     `bson:"discussion_id"`
	ForumID      int64     `bson:"forum_id"`
	FirstRead    time.Time `bson:"first_read"`
	LastRead     time.Time `bson:"last_read"`
}

// TrackPreference 存在即表示用户退出该论坛的阅读跟踪
type TrackPreference struct {
	UserID  int64 `bson:"user_id"`
	ForumID int64 `bson:"forum_id"`
}
