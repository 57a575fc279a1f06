package services

import (
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

// ShoutrrrNotifier forwards incidents at or above a minimum severity to
// shoutrrr service URLs (Slack, Discord, SMTP, ...). Delivery is async and
// failures are only logged.
type ShoutrrrNotifier struct {
	urls        []string
	minSeverity models.Severity
	send        func(url, message string) error
}

// NewShoutrrrNotifier returns nil when no URLs are configured.
func NewShoutrrrNotifier(urls []string, minSeverity string) *ShoutrrrNotifier {
	if len(urls) == 0 {
		return nil
	}
	sev := models.Severity(strings.ToLower(minSeverity))
	if !sev.Valid() {
		sev = models.SeverityHigh
	}
	return &ShoutrrrNotifier{
		urls:        urls,
		minSeverity: sev,
		send:        shoutrrr.Send,
	}
}

// Notify implements IncidentNotifier.
func (n *ShoutrrrNotifier) Notify(inc models.SecurityIncident) {
	if n == nil || inc.Severity.Rank() < n.minSeverity.Rank() {
		return
	}
	msg := formatIncidentMessage(inc)
	go func() {
		for _, u := range n.urls {
			if err := n.send(u, msg); err != nil {
				logger.Component("notifier").
					WithField("incident_id", inc.IncidentID).
					WithError(err).
					Warn("failed to deliver incident notification")
			}
		}
	}()
}

func formatIncidentMessage(inc models.SecurityIncident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s incident %s", strings.ToUpper(string(inc.Severity)), inc.PatternName, inc.IncidentID)
	if inc.ClientID != "" {
		fmt.Fprintf(&b, " client=%s", inc.ClientID)
	}
	if inc.ActorID != "" {
		fmt.Fprintf(&b, " actor=%s", inc.ActorID)
	}
	if inc.SourceIP != "" {
		fmt.Fprintf(&b, " ip=%s", inc.SourceIP)
	}
	switch {
	case inc.Evidence.Pattern != nil:
		p := inc.Evidence.Pattern
		fmt.Fprintf(&b, ": %d events in %ds (threshold %d)", p.Count, p.WindowSeconds, p.Threshold)
	case inc.Evidence.Suspicion != nil:
		s := inc.Evidence.Suspicion
		fmt.Fprintf(&b, ": %d attempts, %d blocked (%.0f%%) in %ds", s.TotalAttempts, s.BlockedAttempts, s.BlockRate*100, s.WindowSeconds)
	}
	return b.String()
}
