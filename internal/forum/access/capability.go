package access

import (
	"context"
	"sync"

	"go_forum/internal/forum/models"
)

// Capability 权限名
type Capability string

const (
	CapViewDiscussion          Capability = "mod/forum:viewdiscussion"
	CapStartDiscussion         Capability = "mod/forum:startdiscussion"
	CapReplyPost               Capability = "mod/forum:replypost"
	CapAddNews                 Capability = "mod/forum:addnews"
	CapAddQuestion             Capability = "mod/forum:addquestion"
	CapManageSubscriptions     Capability = "mod/forum:managesubscriptions"
	CapAllowForceSubscribe     Capability = "mod/forum:allowforcesubscribe"
	CapViewHiddenTimedPosts    Capability = "mod/forum:viewhiddentimedposts"
	CapViewQandAWithoutPosting Capability = "mod/forum:viewqandawithoutposting"
	CapAccessAllGroups         Capability = "moodle/site:accessallgroups"
	CapViewHiddenActivities    Capability = "moodle/course:viewhiddenactivities"
)

// Checker 权限判定接口
type Checker interface {
	Has(ctx context.Context, capability Capability, courseID int64, user *models.User) bool
}

// RoleChecker 基于课程角色表的权限判定
type RoleChecker struct {
	mu    sync.RWMutex
	roles map[string]map[Capability]bool
}

// NewRoleChecker 使用默认角色表创建
func NewRoleChecker() *RoleChecker {
	student := []Capability{CapViewDiscussion, CapStartDiscussion, CapReplyPost, CapAllowForceSubscribe}
	teacher := append([]Capability{
		CapManageSubscriptions,
		CapAddNews,
		CapAddQuestion,
		CapViewHiddenTimedPosts,
		CapViewQandAWithoutPosting,
		CapAccessAllGroups,
		CapViewHiddenActivities,
	}, student...)

	c := &RoleChecker{roles: make(map[string]map[Capability]bool)}
	c.grant(models.RoleGuest, CapViewDiscussion)
	c.grant(models.RoleStudent, student...)
	c.grant(models.RoleTeacher, teacher...)
	c.grant(models.RoleEditingTeacher, teacher...)
	c.grant(models.RoleManager, teacher...)
	return c
}

func (c *RoleChecker) grant(role string, caps ...Capability) {
	set, ok := c.roles[role]
	if !ok {
		set = make(map[Capability]bool)
		c.roles[role] = set
	}
	for _, capability := range caps {
		set[capability] = true
	}
}

// Grant 为角色授予权限
func (c *RoleChecker) Grant(role string, caps ...Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grant(role, caps...)
}

// Revoke 撤销角色权限
func (c *RoleChecker) Revoke(role string, caps ...Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, capability := range caps {
		delete(c.roles[role], capability)
	}
}

// Has 判断用户在课程中是否拥有权限，站点管理员拥有全部权限
func (c *RoleChecker) Has(ctx context.Context, capability Capability, courseID int64, user *models.User) bool {
	if user == nil || !user.Active() {
		return false
	}
	if user.IsAdmin() {
		return true
	}

	role := user.EnrolledIn(courseID)
	if role == "" {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles[role][capability]
}
