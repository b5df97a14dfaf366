package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// AuditRecorder is the subset of internal/infrastructure/audit.Writer this
// middleware needs; declared here so this package does not import
// internal/infrastructure/audit and create a cycle with app wiring.
type AuditRecorder interface {
	Record(entry entity.AuditEntry)
}

// Audit emits one AuditEntry per mutating request (spec.md §4.9: "Every
// mutating API call emits an AuditEntry"). It runs after the handler so the
// response status reflects the real outcome, and reads the Principal that
// Authenticate already resolved.
func Audit(recorder AuditRecorder, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		principal, _ := PrincipalFrom(c)
		outcome := "success"
		detail := ""
		if len(c.Errors) > 0 {
			outcome = "error"
			detail = c.Errors.String()
		} else if c.Writer.Status() >= 400 {
			outcome = "error"
		}

		recorder.Record(entity.AuditEntry{
			Actor: entity.AuditActor{
				UserID:   principal.UserID,
				APIKeyID: principal.APIKeyID,
			},
			Action:   action,
			Resource: c.Request.URL.Path,
			IP:       c.ClientIP(),
			Outcome:  outcome,
			Detail:   detail,
		})
	}
}
