package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Durations above which LogPerformance raises the log level.
const (
	slowOperationInfo = time.Second
	slowOperationWarn = 5 * time.Second
)

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"bind_pw":     true,
	"secret":      true,
	"token":       true,
	"key":         true,
	"private_key": true,
	"credential":  true,
	"credentials": true,
	"ca_cert":     true,
}

var sensitivePatterns = []string{"password=", "passwd=", "secret=", "token=", "key="}

// withFields copies fields so callers can reuse their map.
func withFields(fields map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+len(extra))
	maps.Copy(out, fields)
	maps.Copy(out, extra)
	return out
}

// LogOperation runs fn and logs its outcome and duration.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()
	fields = withFields(fields, map[string]any{"operation": operation})

	tflog.SubsystemTrace(ctx, subsystem, "Starting operation", fields)
	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(ctx, subsystem, operation, err, fields)
		return err
	}
	tflog.SubsystemDebug(ctx, subsystem, "Operation completed", fields)
	return nil
}

// LogPerformance logs the duration of an operation, louder when it was slow.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	fields = withFields(fields, map[string]any{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case duration > slowOperationWarn:
		tflog.SubsystemWarn(ctx, subsystem, "Slow operation detected", fields)
	case duration > slowOperationInfo:
		tflog.SubsystemInfo(ctx, subsystem, "Operation performance", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Operation performance", fields)
	}
}

// LogLDAPError logs a failed operation with its classification and, when the
// server answered, the result code and diagnostic message.
func LogLDAPError(ctx context.Context, subsystem, operation string, err error, fields map[string]any) {
	fields = withFields(fields, map[string]any{
		"operation": operation,
		"error":     err.Error(),
	})

	var classified *LDAPError
	if errors.As(err, &classified) {
		fields["error_kind"] = string(classified.Kind)
		fields["retryable"] = classified.Retryable
		if classified.DN != "" {
			fields["dn"] = classified.DN
		}
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	// Missing entries are routine for existence checks
	if IsNotFoundError(err) {
		tflog.SubsystemDebug(ctx, subsystem, "LDAP operation failed", fields)
		return
	}
	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs session lifecycle events on the ldap subsystem.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	fields = withFields(fields, map[string]any{"event": event})

	switch event {
	case "authentication_success":
		tflog.SubsystemInfo(ctx, "ldap", "Connection event", fields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, "ldap", "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, "ldap", "Connection event", fields)
	}
}

// LogPoolEvent logs strategy and pool events on the pool subsystem.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	fields = withFields(fields, map[string]any{"event": event})

	switch event {
	case "strategy_created", "pool_initialized", "connection_acquired", "connection_released":
		tflog.SubsystemDebug(ctx, "pool", "Pool event", fields)
	case "pool_exhausted", "connection_failed", "health_check_failed", "prewarm_failed", "connection_close_failed":
		tflog.SubsystemWarn(ctx, "pool", "Pool event", fields)
	case "all_connections_failed":
		tflog.SubsystemError(ctx, "pool", "Pool event", fields)
	default:
		tflog.SubsystemTrace(ctx, "pool", "Pool event", fields)
	}
}

// SanitizeFields returns a copy of fields with secrets replaced.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = redacted
			continue
		}
		if s, ok := v.(string); ok && containsSensitivePattern(s) {
			sanitized[k] = redacted
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
