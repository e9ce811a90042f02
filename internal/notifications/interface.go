package notifications

import "github.com/azure/reply-campaigns-bot/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendAnalysisReport(report *models.AnalysisReport) error
	SendAlert(alert *models.Alert) error
}
