package connector

import (
	"context"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// subsystems are the tflog subsystems the connector and the ldap package log to.
var subsystems = []string{"connector", "ldap", "pool", "schema"}

// initializeLogging registers the logging subsystems on ctx. Levels come from
// LDAP_CONNECTOR_LOG_<SUBSYSTEM>, for example LDAP_CONNECTOR_LOG_POOL=debug.
// Without a root logger on ctx nothing is written.
func initializeLogging(ctx context.Context) context.Context {
	for _, subsystem := range subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv("LDAP_CONNECTOR_LOG_"+strings.ToUpper(subsystem)))
	}
	return ctx
}
