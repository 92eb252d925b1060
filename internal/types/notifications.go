package types

// NotificationLevel orders message severities for threshold filtering
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

var levelRank = map[NotificationLevel]int{
	LevelInfo:    0,
	LevelWarning: 1,
	LevelError:   2,
}

// AtLeast reports whether l meets the given minimum level. Unknown levels
// rank as info.
func (l NotificationLevel) AtLeast(min NotificationLevel) bool {
	return levelRank[l] >= levelRank[min]
}

// NotificationPlatform selects the webhook payload shape
type NotificationPlatform string

const (
	PlatformFeishu NotificationPlatform = "feishu"
	PlatformWechat NotificationPlatform = "wechat"
	PlatformSlack  NotificationPlatform = "slack"
	PlatformCustom NotificationPlatform = "custom"
)

// Notification is the platform-neutral message handed to the notifier
type Notification struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Level   NotificationLevel `json:"level"`
	Fields  map[string]string `json:"fields,omitempty"`
	Project string            `json:"project,omitempty"`
}
