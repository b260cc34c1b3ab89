package service

import "errors"

var (
	// ErrNoReadFilter 删除阅读记录时未指定任何条件
	ErrNoReadFilter = errors.New("no read record filter specified")
	// ErrSubscriptionDisallowed 论坛禁止订阅
	ErrSubscriptionDisallowed = errors.New("该论坛不允许订阅")
	// ErrTrackingDisabled 站点或论坛未启用阅读跟踪
	ErrTrackingDisabled = errors.New("阅读跟踪未启用")
	// ErrTrackingForced 强制跟踪的论坛不能退出
	ErrTrackingForced = errors.New("该论坛强制跟踪阅读，无法退出")
	// ErrPermissionDenied 权限不足
	ErrPermissionDenied = errors.New("权限不足")
	// ErrDiscussionLimit 论坛类型限制了话题数量
	ErrDiscussionLimit = errors.New("已达到话题数量上限")
	// ErrInvalidSubscriptionMode 未知订阅模式
	ErrInvalidSubscriptionMode = errors.New("invalid subscription mode")
)
