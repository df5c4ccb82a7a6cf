package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"portfolio-query/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues). Database
// settings are only checked for the sql backend.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Engine.validate(result)
	if c.Engine.Backend == BackendSQL {
		c.Database.validate(result)
	}
	validateNamingConfig(result, c.Naming)
	c.Observability.validate(result)

	return result
}

func (e *EngineConfig) validate(result *ValidationResult) {
	if e.Backend != BackendSQL && e.Backend != BackendMemory {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.backend",
			Message: fmt.Sprintf("invalid backend %q", e.Backend),
			Hint:    "valid values are: sql, memory",
		})
	}
	if e.MaxTake < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_take",
			Message: "max_take cannot be negative",
			Hint:    "use 0 to disable the limit",
		})
	}
	if e.MaxDepth < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "engine.max_depth",
			Message: "max_depth cannot be negative",
			Hint:    "use 0 to disable the limit",
		})
	}
	if e.MaxDepth == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "engine.max_depth",
			Message: "nesting depth is unbounded",
			Hint:    "set max_depth to bound deeply nested requests",
		})
	}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for model, table := range cfg.TableOverrides {
		if !tableNamePattern.MatchString(table) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "naming.table_overrides." + model,
				Message: fmt.Sprintf("invalid table name %q", table),
				Hint:    "use letters, digits and underscores, not starting with a digit",
			})
		}
	}
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "naming.plural_overrides",
				Message: fmt.Sprintf("override %q -> %q must name both words", singular, plural),
			})
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.Driver != DriverMySQL && d.Driver != DriverPostgres {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("invalid driver %q", d.Driver),
			Hint:    "valid values are: mysql, postgres",
		})
		return
	}

	// Port range validation (only if not using connection string)
	if d.ConnectionString == "" && (d.Port < 0 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	d.TLS.validate(d.Driver, result)

	// Connection pool validation
	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	// Connection retry validation
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
	if !tableNamePattern.MatchString(d.MigrationsTable) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.migrations_table",
			Message: fmt.Sprintf("invalid table name %q", d.MigrationsTable),
		})
	}

	effectiveDatabase, _, err := resolveEffectiveDatabaseName(d.Driver, d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: err.Error(),
				Hint:    "set a valid DSN for the configured driver in database.dsn/database.dsn_file",
			})
		case strings.Contains(err.Error(), "mismatch"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "either remove database.database or set it to match the DSN database",
			})
		default:
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "set database.database or include a /database in database.dsn/database.dsn_file",
			})
		}
		return
	}

	// Keep runtime behavior deterministic for callers that consume Database.Database.
	d.Database = effectiveDatabase
}

func (t *DatabaseTLSConfig) validate(driver string, result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
			Hint:    "set ca_file to specify the CA certificate",
		})
	}

	if (t.CertFile != "" && t.KeyFile == "") || (t.CertFile == "" && t.KeyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	if t.ServerName != "" && driver == DriverPostgres {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.server_name",
			Message: "server_name is ignored by the postgres driver",
			Hint:    "the host in the DSN is used for verification",
		})
	}

	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio),
		})
	}

	if o.MetricsDump != "" && !o.MetricsEnabled {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "observability.metrics_dump",
			Message: "metrics_dump is set but metrics are disabled",
			Hint:    "set metrics_enabled to true",
		})
	}

	if o.SQLCommenter && !o.TracingEnabled {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "observability.sqlcommenter_enabled",
			Message: "sqlcommenter requires tracing to be enabled",
			Hint:    "set tracing_enabled to true",
		})
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
