package core

import (
	"fmt"
	"strings"
	"time"
)

// NotificationTemplate shapes a Notification into the JSON body a particular
// webhook service expects.
type NotificationTemplate interface {
	Format(n Notification) map[string]interface{}
	Name() string
}

// GetNotificationTemplate returns a template by name, or nil if unknown.
// routingKey is only used by PagerDuty.
func GetNotificationTemplate(name, routingKey string) NotificationTemplate {
	switch strings.ToLower(name) {
	case "pagerduty", "pd":
		return &PagerDutyTemplate{RoutingKey: routingKey}
	case "slack":
		return &SlackTemplate{}
	case "discord":
		return &DiscordTemplate{}
	case "generic", "":
		return &GenericTemplate{}
	default:
		return nil
	}
}

// ValidTemplateNames returns all supported template names.
func ValidTemplateNames() []string {
	return []string{"generic", "pagerduty", "slack", "discord"}
}

func noteFacts(n Notification) [][2]string {
	facts := [][2]string{{"Kind", string(n.Kind)}, {"Level", n.Level.String()}}
	if n.Contract != "" {
		facts = append(facts, [2]string{"Contract", n.Contract})
	}
	if n.TxHash != "" {
		facts = append(facts, [2]string{"Transaction", n.TxHash})
	}
	if n.VulnRef != "" {
		facts = append(facts, [2]string{"Vulnerability", n.VulnRef})
	}
	if n.ErrorClass != "" {
		facts = append(facts, [2]string{"Failure", n.ErrorClass})
	}
	return facts
}

func levelColor(l ThreatLevel) int {
	switch l {
	case LevelCritical:
		return 0xD32F2F
	case LevelHigh:
		return 0xF44336
	case LevelMedium:
		return 0xFF9800
	default:
		return 0x2196F3
	}
}

// PagerDutyTemplate targets the Events API v2.
type PagerDutyTemplate struct {
	RoutingKey string
}

func (t *PagerDutyTemplate) Name() string { return "pagerduty" }

func (t *PagerDutyTemplate) Format(n Notification) map[string]interface{} {
	severity := "info"
	switch n.Level {
	case LevelCritical:
		severity = "critical"
	case LevelHigh:
		severity = "error"
	case LevelMedium:
		severity = "warning"
	}
	if n.Kind == NotifyPauseError {
		severity = "critical"
	}

	details := make(map[string]interface{})
	for _, f := range noteFacts(n) {
		details[strings.ToLower(f[0])] = f[1]
	}
	details["message"] = n.Message

	// One incident per contract and kind.
	dedup := fmt.Sprintf("pauseguard-%s-%s", strings.ToLower(string(n.Kind)), n.Contract)
	return map[string]interface{}{
		"routing_key":  t.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedup,
		"payload": map[string]interface{}{
			"summary":        fmt.Sprintf("[pauseguard] %s: %s", n.Level.String(), n.Title),
			"source":         "pauseguard",
			"severity":       severity,
			"component":      n.Contract,
			"class":          string(n.Kind),
			"timestamp":      n.Timestamp.Format(time.RFC3339),
			"custom_details": details,
		},
	}
}

// SlackTemplate renders Block Kit.
type SlackTemplate struct{}

func (t *SlackTemplate) Name() string { return "slack" }

func (t *SlackTemplate) Format(n Notification) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, 6)
	for _, f := range noteFacts(n) {
		fields = append(fields, map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n`%s`", f[0], f[1])})
	}
	return map[string]interface{}{
		"text": n.Title,
		"blocks": []map[string]interface{}{
			{"type": "header", "text": map[string]interface{}{"type": "plain_text", "text": "pauseguard: " + n.Title}},
			{"type": "section", "text": map[string]interface{}{"type": "mrkdwn", "text": truncate(n.Message, 500)}},
			{"type": "section", "fields": fields},
			{"type": "context", "elements": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("Notification `%s` | %s", n.ID, n.Timestamp.Format(time.RFC3339))},
			}},
		},
		"attachments": []map[string]interface{}{
			{"color": fmt.Sprintf("#%06x", levelColor(n.Level)), "blocks": []interface{}{}},
		},
	}
}

// DiscordTemplate renders a single embed.
type DiscordTemplate struct{}

func (t *DiscordTemplate) Name() string { return "discord" }

func (t *DiscordTemplate) Format(n Notification) map[string]interface{} {
	fields := make([]map[string]interface{}, 0, 6)
	for _, f := range noteFacts(n) {
		fields = append(fields, map[string]interface{}{"name": f[0], "value": f[1], "inline": true})
	}
	return map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       "pauseguard: " + n.Title,
				"description": truncate(n.Message, 500),
				"color":       levelColor(n.Level),
				"fields":      fields,
				"footer":      map[string]string{"text": "Notification " + n.ID},
				"timestamp":   n.Timestamp.Format(time.RFC3339),
			},
		},
	}
}

// GenericTemplate sends the notification itself.
type GenericTemplate struct{}

func (t *GenericTemplate) Name() string { return "generic" }

func (t *GenericTemplate) Format(n Notification) map[string]interface{} {
	return map[string]interface{}{
		"notification": n,
		"source":       "pauseguard",
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
