// Package health aggregates status and audit results across adapters.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

// ServiceHealth is one adapter's probed status.
type ServiceHealth struct {
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Healthy     bool                 `json:"healthy"`
	Applicable  bool                 `json:"applicable"`
	Status      schema.ServiceStatus `json:"status"`
}

// Summary counts services. Disabled services are not applicable and count
// as neither healthy nor unhealthy.
type Summary struct {
	Total         int             `json:"total"`
	Enabled       int             `json:"enabled"`
	Healthy       int             `json:"healthy"`
	Unhealthy     int             `json:"unhealthy"`
	NotApplicable int             `json:"not_applicable"`
	Services      []ServiceHealth `json:"services"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// AllHealthy is true when every applicable service is healthy.
func (s Summary) AllHealthy() bool { return s.Unhealthy == 0 }

// Summarize probes each adapter in turn.
func Summarize(ctx context.Context, adapters []services.Adapter) Summary {
	sum := Summary{CheckedAt: time.Now(), Services: make([]ServiceHealth, 0, len(adapters))}
	for _, a := range adapters {
		st := a.GetStatus(ctx)
		h := ServiceHealth{
			Name:        a.Name(),
			DisplayName: a.DisplayName(),
			Healthy:     st.Healthy(),
			Applicable:  st.Applicable(),
			Status:      st,
		}
		sum.Total++
		switch {
		case !h.Applicable:
			sum.NotApplicable++
		case h.Healthy:
			sum.Enabled++
			sum.Healthy++
		default:
			sum.Enabled++
			sum.Unhealthy++
		}
		sum.Services = append(sum.Services, h)
	}
	return sum
}

// AuditAll runs every adapter's audit sequentially. A panic in one adapter
// becomes a not_configured result for that service only.
func AuditAll(ctx context.Context, adapters []services.Adapter, logger *zap.SugaredLogger) []schema.AuditResult {
	logger = logging.OrNop(logger)
	results := make([]schema.AuditResult, 0, len(adapters))
	for _, a := range adapters {
		if ctx.Err() != nil {
			logger.Warnw("Audit cancelled", "remaining_from", a.Name(), "error", ctx.Err())
			break
		}
		results = append(results, auditOne(ctx, a, logger))
	}
	return results
}

func auditOne(ctx context.Context, a services.Adapter, logger *zap.SugaredLogger) (res schema.AuditResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorw("Adapter audit panicked", "service", a.Name(), "panic", p)
			res = schema.AuditResult{
				Service:     a.Name(),
				DisplayName: a.DisplayName(),
				Status:      schema.AuditNotConfigured,
				Issues:      []schema.Event{},
				Metadata:    map[string]interface{}{"error": fmt.Sprint(p)},
			}
		}
	}()
	res = a.RunAudit(ctx)
	logger.Infow("Audit complete", "service", a.Name(), "status", res.Status, "issues", len(res.Issues))
	return res
}

// Totals sums issues by severity across results.
func Totals(results []schema.AuditResult) map[schema.Severity]int {
	out := map[schema.Severity]int{}
	for _, sev := range schema.Severities() {
		out[sev] = 0
	}
	for _, r := range results {
		for sev, n := range r.CountBySeverity() {
			out[sev] += n
		}
	}
	return out
}
