package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config holds the application-level settings that sit alongside the
// go-core package configs (log, httpserver, opshttp, ...).
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	MaxBodyKB             int
	DatabaseURL           string
	APIToken              string
	TenantHeader          string
	DefinitionsFile       string
	DefinitionsTenant     string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.MaxBodyKB, "max-body-kb", 256, "maximum API request body size in KiB (1..10240)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no token check)")
	fs.StringVar(&c.TenantHeader, "tenant-header", "Hawkular-Tenant", "request header carrying the tenant id")
	fs.StringVar(&c.DefinitionsFile, "definitions-file", "", "YAML file of trigger definitions to import at startup")
	fs.StringVar(&c.DefinitionsTenant, "definitions-tenant", "", "tenant the definitions file is imported into")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MaxBodyKB <= 0 || c.MaxBodyKB > 10240 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_KB %d (must be 1..10240)", c.MaxBodyKB))
	}

	// Tenant header must be a usable header name
	if strings.TrimSpace(c.TenantHeader) == "" {
		errs = append(errs, errors.New("TENANT_HEADER is required"))
	} else if strings.ContainsAny(c.TenantHeader, " :\t\r\n") {
		errs = append(errs, fmt.Errorf("invalid TENANT_HEADER %q", c.TenantHeader))
	}

	// Imported definitions need a tenant to land in
	if c.DefinitionsFile != "" && c.DefinitionsTenant == "" {
		errs = append(errs, errors.New("DEFINITIONS_TENANT is required when DEFINITIONS_FILE is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
