package controller

import (
	"fmt"
	"html"

	"github.com/seckatie/librarian/internal/core/client"
)

const sendingPanel = `<div class="card border-info"><div class="card-body"><div class="text-center">` +
	`<div class="spinner-border text-primary mb-3" role="status"><span class="visually-hidden">Loading...</span></div>` +
	`<h5 class="text-info">Sending Notifications...</h5>` +
	`<p class="text-muted mb-0">Please wait while we send emails to users</p>` +
	`</div></div></div>`

func errorPanel(heading, message string) string {
	return fmt.Sprintf(`<div class="alert alert-danger"><h5>%s</h5><p class="mb-0">%s</p></div>`,
		html.EscapeString(heading), html.EscapeString(message))
}

func summaryPanel(res client.NotificationResult) string {
	return fmt.Sprintf(`<div class="card border-success">`+
		`<div class="card-header bg-success text-white"><h5 class="mb-0">Notifications Sent Successfully!</h5></div>`+
		`<div class="card-body">`+
		`<div class="row text-center mb-3">`+
		`<div class="col-md-6"><h2 class="text-danger overdue-count">%d</h2><p class="text-muted mb-0">Overdue Notices</p></div>`+
		`<div class="col-md-6"><h2 class="text-warning reminder-count">%d</h2><p class="text-muted mb-0">Reminder Notices</p></div>`+
		`</div><hr>`+
		`<div class="text-center"><h4 class="text-success total-count">Total Emails Sent: %d</h4>`+
		`<p class="text-muted"><small>%s</small></p></div>`+
		`</div></div>`,
		res.Results.Overdue, res.Results.Reminders, res.Results.Total(), html.EscapeString(res.Message))
}
