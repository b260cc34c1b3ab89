package models

import "time"

// TrackingType 论坛阅读跟踪模式
type TrackingType int

const (
	TrackingOff      TrackingType = 0 // 关闭
	TrackingOptional TrackingType = 1 // 可选（用户可退出）
	TrackingForced   TrackingType = 2 // 强制
)

// SubscriptionMode 论坛订阅模式
type SubscriptionMode int

const (
	SubscriptionChoose   SubscriptionMode = 0 // 用户自行选择
	SubscriptionForced   SubscriptionMode = 1 // 强制订阅，不可退订
	SubscriptionInitial  SubscriptionMode = 2 // 初始订阅，可退订
	SubscriptionDisallow SubscriptionMode = 3 // 禁止订阅
)

// Valid 是否为已知的订阅模式
func (m SubscriptionMode) Valid() bool {
	return m >= SubscriptionChoose && m <= SubscriptionDisallow
}

// Forum 论坛模型
type Forum struct {
	ID             int64            `bson:"_id"`
	CourseID       int64            `bson:"course_id"`
	Kind           ForumKind        `bson:"kind"`
	Name           string           `bson:"name"`
	Intro          string           `bson:"intro,omitempty"`
	TrackingType   TrackingType     `bson:"tracking_type"`
	ForceSubscribe SubscriptionMode `bson:"force_subscribe"`
	Assessed       int              `bson:"assessed"` // 评分聚合方式，0 表示不评分
	TimeModified   time.Time        `bson:"time_modified"`
}

// IsForceSubscribed 是否强制订阅
func (f *Forum) IsForceSubscribed() bool {
	return f != nil && f.ForceSubscribe == SubscriptionForced
}

// SubscriptionDisabled 是否禁止订阅
func (f *Forum) SubscriptionDisabled() bool {
	return f != nil && f.ForceSubscribe == SubscriptionDisallow
}

// Rules 返回论坛类型对应的规则
func (f *Forum) Rules() KindRules {
	if f == nil {
		return KindRules{}
	}
	return f.Kind.Rules()
}
