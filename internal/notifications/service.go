package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const (
	reportTopUsers = 5
	reportTopPosts = 10
)

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether at least one channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendAnalysisReport sends an analysis summary via configured notification channels
func (s *Service) SendAnalysisReport(report *models.AnalysisReport) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.postToTeams(s.buildReportTeamsMessage(report)); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Sent analysis report for campaign %s to Teams", report.CampaignID)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendReportEmail(report); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Sent analysis report for campaign %s via email", report.CampaignID)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// SendAlert sends an urgent alert notification
func (s *Service) SendAlert(alert *models.Alert) error {
	logrus.WithFields(logrus.Fields{
		"type":        alert.Type,
		"campaign_id": alert.CampaignID,
	}).Warnf("Alert: %s - %s", alert.Title, alert.Message)

	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.postToTeams(s.buildAlertTeamsMessage(alert)); err != nil {
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		}
	}

	if s.config.NotificationEmail != "" {
		m := gomail.NewMessage()
		m.SetHeader("From", s.config.SMTPUsername)
		m.SetHeader("To", s.config.NotificationEmail)
		m.SetHeader("Subject", fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title))
		m.SetBody("text/plain", fmt.Sprintf("%s\n\nCampaign: %s\nTime: %s\n", alert.Message, alert.CampaignID, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")))
		if err := s.dial(m); err != nil {
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("alert errors: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (s *Service) postToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildReportTeamsMessage(report *models.AnalysisReport) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Campaign Analysis - %s", report.CampaignName),
		Text:    fmt.Sprintf("Found %d matching posts from %d interacted users", len(report.MatchedPosts), len(report.TopUsers)),
	}

	facts := []TeamsFact{
		{Name: "Interacted Users", Value: fmt.Sprintf("%d", len(report.TopUsers))},
		{Name: "Matched Posts", Value: fmt.Sprintf("%d", len(report.MatchedPosts))},
		{Name: "Mode", Value: modeLabel(report.DryRun)},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(report.TopUsers) > 0 {
		var lines []string
		for i, u := range report.TopUsers {
			if i >= reportTopUsers {
				break
			}
			lines = append(lines, fmt.Sprintf("**@%s** - score %d", u.Username, u.Score))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Interacted Users",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	if len(report.MatchedPosts) > 0 {
		var lines []string
		for i, p := range report.MatchedPosts {
			if i >= reportTopPosts/2 {
				break
			}
			lines = append(lines, fmt.Sprintf("**@%s**: %s (%s)", p.SourceUsername, truncate(p.Text, 120), strings.Join(p.MatchedKeywords, ", ")))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Matched Posts",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) buildAlertTeamsMessage(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	switch alert.Type {
	case "critical":
		color = "D13438"
	case "urgent":
		color = "FF8C00"
	}

	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      alert.Title,
		Text:       alert.Message,
	}
	if alert.CampaignID != "" {
		message.Sections = []TeamsSection{{
			Facts: []TeamsFact{
				{Name: "Campaign", Value: alert.CampaignID},
				{Name: "Time", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
			},
		}}
	}
	return message
}

func (s *Service) sendReportEmail(report *models.AnalysisReport) error {
	subject := fmt.Sprintf("Campaign Analysis - %s (%d matched posts)", report.CampaignName, len(report.MatchedPosts))

	htmlBody, err := s.buildEmailHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", s.buildEmailText(report))
	m.AddAlternative("text/html", htmlBody)

	return s.dial(m)
}

func (s *Service) dial(m *gomail.Message) error {
	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

const reportHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Campaign Analysis</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .post { border-left: 4px solid #0078d4; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .post-meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.CampaignName}}</h1>
        <p>Analysis completed on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}{{if .DryRun}} (dry run){{end}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Interacted Users:</strong> {{len .TopUsers}}</p>
        <p><strong>Matched Posts:</strong> {{len .MatchedPosts}}</p>
    </div>

    {{if .TopUsers}}
    <h2>Top Interacted Users</h2>
    <ol>
    {{range $index, $user := .TopUsers}}{{if lt $index 5}}
        <li>@{{$user.Username}} (score {{$user.Score}})</li>
    {{end}}{{end}}
    </ol>
    {{end}}

    {{if .MatchedPosts}}
    <h2>Matched Posts</h2>
    {{range $index, $post := .MatchedPosts}}{{if lt $index 10}}
        <div class="post">
            <p>{{$post.Text | truncate 200}}</p>
            <div class="post-meta">
                @{{$post.SourceUsername}} | {{$post.PostedAt.Format "Jan 2, 2006"}} | {{join $post.MatchedKeywords ", "}}
                {{if $post.AIApproved}} | AI: {{$post.AIReason}}{{end}}
            </div>
        </div>
    {{end}}{{end}}
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the Reply Campaigns Bot.</small></p>
</body>
</html>
`

func (s *Service) buildEmailHTML(report *models.AnalysisReport) (string, error) {
	t := template.New("email").Funcs(template.FuncMap{
		"truncate": func(length int, s string) string { return truncate(s, length) },
		"join":     strings.Join,
	})

	t, err := t.Parse(reportHTML)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *Service) buildEmailText(report *models.AnalysisReport) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Campaign Analysis - %s\n", report.CampaignName))
	text.WriteString(fmt.Sprintf("Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))
	text.WriteString(fmt.Sprintf("Mode: %s\n\n", modeLabel(report.DryRun)))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Interacted Users: %d\n", len(report.TopUsers)))
	text.WriteString(fmt.Sprintf("Matched Posts: %d\n", len(report.MatchedPosts)))

	if len(report.MatchedPosts) > 0 {
		text.WriteString("\nMATCHED POSTS\n")
		text.WriteString("=============\n")

		for i, p := range report.MatchedPosts {
			if i >= reportTopPosts {
				break
			}
			text.WriteString(fmt.Sprintf("\n%d. @%s: %s\n", i+1, p.SourceUsername, truncate(p.Text, 200)))
			text.WriteString(fmt.Sprintf("   Keywords: %s | Posted: %s\n", strings.Join(p.MatchedKeywords, ", "), p.PostedAt.Format("Jan 2, 2006")))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the Reply Campaigns Bot.\n")

	return text.String()
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "Dry run"
	}
	return "Live"
}

func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length]) + "..."
}
