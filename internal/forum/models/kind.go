package models

import "fmt"

// ForumKind 论坛类型
type ForumKind string

const (
	KindGeneral  ForumKind = "general"  // 普通论坛
	KindSingle   ForumKind = "single"   // 单一话题
	KindEachUser ForumKind = "eachuser" // 每人只能发起一个话题
	KindQandA    ForumKind = "qanda"    // 问答：回复前看不到他人回复
	KindNews     ForumKind = "news"     // 公告
	KindSocial   ForumKind = "social"   // 社交
	KindBlog     ForumKind = "blog"     // 博客式
)

// KindRules 论坛类型规则表
type KindRules struct {
	StudentsMayStart        bool // 学生可以发起话题
	SingleDiscussionPerUser bool // 每个用户最多一个话题
	SingleDiscussion        bool // 整个论坛只有一个话题
	QandAGated              bool // 发帖前隐藏他人回复
	TeachersOnlyStart       bool // 仅教师可发起话题
}

var kindRules = map[ForumKind]KindRules{
	KindGeneral:  {StudentsMayStart: true},
	KindSingle:   {SingleDiscussion: true},
	KindEachUser: {StudentsMayStart: true, SingleDiscussionPerUser: true},
	KindQandA:    {QandAGated: true, TeachersOnlyStart: true},
	KindNews:     {TeachersOnlyStart: true},
	KindSocial:   {StudentsMayStart: true},
	KindBlog:     {StudentsMayStart: true},
}

// Rules 返回类型规则，未知类型按 general 处理
func (k ForumKind) Rules() KindRules {
	if rules, ok := kindRules[k]; ok {
		return rules
	}
	return kindRules[KindGeneral]
}

// ParseForumKind 解析论坛类型
func ParseForumKind(s string) (ForumKind, error) {
	k := ForumKind(s)
	if _, ok := kindRules[k]; !ok {
		return "", fmt.Errorf("unknown forum kind %q", s)
	}
	return k, nil
}
