package notify

import "errors"

// ErrRunInProgress 同名任务正在运行
var ErrRunInProgress = errors.New("notification run already in progress")

// ImmediateReport 即时通知运行结果
type ImmediateReport struct {
	RunID    string
	Selected int   // 窗口内选中的帖子数
	Claimed  int64 // 成功认领的帖子数
	Mailed   int   // 送达的消息数
	Queued   int   // 进入摘要队列的条目数
	Errors   int   // 投递失败数
	Skipped  int   // 查找缺失或无投递渠道而跳过的数量
}

// DigestReport 摘要运行结果
type DigestReport struct {
	RunID       string
	Ran         bool // false 表示当前时段无需运行
	UsersMailed int
	Errors      int
	Purged      int64 // 清理掉的过期队列项
}
