package notify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maxclaw/internal/types"
)

// buildPayload maps a platform tag to its JSON body and request headers.
func buildPayload(platform types.NotificationPlatform, n types.Notification) ([]byte, map[string]string, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   "maxclaw-notifier",
	}

	var payload interface{}
	switch platform {
	case types.PlatformFeishu:
		payload = feishuCard(n)
	case types.PlatformWechat:
		payload = wechatMarkdown(n)
	case types.PlatformSlack:
		payload = slackAttachments(n)
	case types.PlatformCustom:
		payload = customRecord(n)
		headers["X-Notification-Level"] = string(n.Level)
	default:
		return nil, nil, types.NewValidation("unknown notification platform %q", platform)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, types.NewValidation("marshal %s payload: %v", platform, err)
	}
	return body, headers, nil
}

// feishuCard builds an interactive card message.
func feishuCard(n types.Notification) map[string]interface{} {
	template := "blue"
	switch n.Level {
	case types.LevelWarning:
		template = "orange"
	case types.LevelError:
		template = "red"
	}

	elements := []map[string]interface{}{
		{
			"tag":  "div",
			"text": map[string]interface{}{"tag": "lark_md", "content": n.Body},
		},
	}
	if len(n.Fields) > 0 {
		fields := make([]map[string]interface{}, 0, len(n.Fields))
		for _, k := range sortedKeys(n.Fields) {
			fields = append(fields, map[string]interface{}{
				"is_short": true,
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": fmt.Sprintf("**%s**\n%s", k, n.Fields[k]),
				},
			})
		}
		elements = append(elements,
			map[string]interface{}{"tag": "hr"},
			map[string]interface{}{"tag": "div", "fields": fields},
		)
	}
	if n.Project != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "note",
			"elements": []map[string]interface{}{
				{"tag": "plain_text", "content": n.Project},
			},
		})
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"config": map[string]interface{}{"wide_screen_mode": true},
			"header": map[string]interface{}{
				"template": template,
				"title":    map[string]interface{}{"tag": "plain_text", "content": n.Title},
			},
			"elements": elements,
		},
	}
}

// wechatMarkdown builds a WeCom group-bot markdown message.
func wechatMarkdown(n types.Notification) map[string]interface{} {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", n.Title)
	if n.Body != "" {
		b.WriteString(n.Body)
		b.WriteString("\n")
	}
	for _, k := range sortedKeys(n.Fields) {
		fmt.Fprintf(&b, "> **%s**: %s\n", k, n.Fields[k])
	}
	if n.Project != "" {
		fmt.Fprintf(&b, "> _%s_", n.Project)
	}
	return map[string]interface{}{
		"msgtype":  "markdown",
		"markdown": map[string]interface{}{"content": strings.TrimRight(b.String(), "\n")},
	}
}

// slackAttachments builds an attachment message colored by level.
func slackAttachments(n types.Notification) map[string]interface{} {
	color := "good"
	switch n.Level {
	case types.LevelWarning:
		color = "warning"
	case types.LevelError:
		color = "danger"
	}

	fields := make([]map[string]interface{}, 0, len(n.Fields)+1)
	if n.Project != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Project",
			"value": n.Project,
			"short": true,
		})
	}
	for _, k := range sortedKeys(n.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": n.Fields[k],
			"short": true,
		})
	}

	return map[string]interface{}{
		"text": n.Title,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  n.Title,
				"text":   n.Body,
				"fields": fields,
				"ts":     time.Now().Unix(),
			},
		},
	}
}

// customRecord builds a flat record for generic receivers.
func customRecord(n types.Notification) map[string]interface{} {
	record := map[string]interface{}{
		"title":     n.Title,
		"body":      n.Body,
		"level":     string(n.Level),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if n.Project != "" {
		record["project"] = n.Project
	}
	if len(n.Fields) > 0 {
		record["fields"] = n.Fields
	}
	return record
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
