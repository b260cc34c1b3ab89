package service

import (
	"time"

	"go_forum/internal/config"
	"go_forum/internal/events"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/repository"
)

// Clock 时间来源
type Clock func() time.Time

// Deps 服务依赖
type Deps struct {
	Config    config.ForumConfig
	Store     *repository.Store
	Caps      access.Checker
	Directory *access.Directory
	Events    events.Publisher
	Clock     Clock
}

func (d Deps) withDefaults() Deps {
	if d.Caps == nil {
		d.Caps = access.NewRoleChecker()
	}
	if d.Directory == nil && d.Store != nil {
		d.Directory = access.NewDirectory(d.Store.Users, time.Minute)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}
