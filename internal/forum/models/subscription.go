package models

// DiscussionUnsubscribed 话题级退订标记
const DiscussionUnsubscribed int64 = -1

// Subscription 论坛级订阅
type Subscription struct {
	UserID  int64 `bson:"user_id"`
	ForumID int64 `bson:"forum_id"`
}

// DiscussionSubscription 话题级订阅覆盖
// Preference 为 DiscussionUnsubscribed 表示退订，否则为订阅时间（Unix 秒）
type DiscussionSubscription struct {
	UserID       int64 `bson:"user_id"`
	ForumID      int64 `bson:"forum_id"`
	DiscussionID int64 `bson:"discussion_id"`
	Preference   int64 `bson:"preference"`
}

// Unsubscribed 是否为退订记录
func (s *DiscussionSubscription) Unsubscribed() bool {
	return s.Preference == DiscussionUnsubscribed
}
