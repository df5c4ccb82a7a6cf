package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-query/internal/naming"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		contains []string
	}{
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				User:     "root",
				Password: "password",
				Database: "portfolio",
			},
			contains: []string{"root:password@tcp(localhost:3306)/portfolio?", "parseTime=true"},
		},
		{
			name: "mysql special characters in password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3307,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			contains: []string{"admin:p@ss:w0rd!@tcp(db.example.com:3307)/mydb?"},
		},
		{
			name: "mysql connection string with skip-verify",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "app:pw@tcp(db:3306)/agency",
				TLS:              DatabaseTLSConfig{Mode: "skip-verify"},
			},
			contains: []string{"app:pw@tcp(db:3306)/agency?", "parseTime=true", "tls=skip-verify"},
		},
		{
			name: "postgres discrete fields",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "localhost",
				User:     "app",
				Password: "pw",
				Database: "portfolio",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			contains: []string{"postgres://app:pw@localhost:5432/portfolio?", "sslmode=disable"},
		},
		{
			name: "postgres verify-full keeps explicit sslmode",
			config: DatabaseConfig{
				Driver:           DriverPostgres,
				ConnectionString: "postgres://app@db/agency?sslmode=require",
				TLS:              DatabaseTLSConfig{Mode: "verify-full", CAFile: "/etc/ca.pem"},
			},
			contains: []string{"sslmode=require", "sslrootcert=%2Fetc%2Fca.pem"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := tt.config.DSN()
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, dsn, want)
			}
		})
	}
}

func TestDatabaseConfig_DSNInvalid(t *testing.T) {
	_, err := (&DatabaseConfig{Driver: DriverPostgres, ConnectionString: "mysql://db/x"}).DSN()
	require.Error(t, err)

	_, err = (&DatabaseConfig{Driver: DriverMySQL, ConnectionString: "not a dsn"}).DSN()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "database.dsn"))
}

func TestResolveEffectiveDatabaseName(t *testing.T) {
	name, source, err := resolveEffectiveDatabaseName(DriverPostgres, "", "postgres://app@db:5432/agency")
	require.NoError(t, err)
	assert.Equal(t, "agency", name)
	assert.Equal(t, "dsn", source)

	_, _, err = resolveEffectiveDatabaseName(DriverMySQL, "other", "app@tcp(db:3306)/agency")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")

	_, _, err = resolveEffectiveDatabaseName(DriverMySQL, "", "")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	// Helper to create a valid base config
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:          DriverMySQL,
				Host:            "localhost",
				User:            "root",
				Database:        "portfolio",
				MigrationsTable: "goose_db_version",
				TLS: DatabaseTLSConfig{
					Mode: "off",
				},
				Pool: PoolConfig{
					MaxOpen: 10,
					MaxIdle: 2,
				},
			},
			Engine: EngineConfig{
				Backend:  BackendSQL,
				MaxDepth: 8,
			},
			Naming: naming.DefaultConfig(),
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				OTLP: OTLPConfig{
					Protocol:    "grpc",
					Compression: "gzip",
				},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		cfg := validConfig()
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	t.Run("invalid database port high", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 70000
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Driver = "sqlite"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.driver")
	})

	t.Run("memory backend skips database checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.Backend = BackendMemory
		cfg.Database.Driver = "sqlite"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("invalid backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.Backend = "redis"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.backend")
	})

	t.Run("negative engine limits invalid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.MaxTake = -1
		cfg.Engine.MaxDepth = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "engine.max_take")
		assert.Contains(t, result.Error(), "engine.max_depth")
	})

	t.Run("unbounded depth warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Engine.MaxDepth = 0
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "engine.max_depth", result.Warnings[0].Field)
	})

	t.Run("invalid TLS mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.mode")
	})

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "off", "skip-verify", "verify-ca", "verify-full"} {
			cfg := validConfig()
			if mode == "verify-ca" || mode == "verify-full" {
				cfg.Database.TLS.CAFile = "/path/to/ca.pem"
			}
			cfg.Database.TLS.Mode = mode
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("verify modes need a CA file", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "verify-full"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.ca_file")
	})

	t.Run("client cert without key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.CertFile = "/path/client.pem"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.cert_file")
	})

	t.Run("dsn database mismatch", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.ConnectionString = "app:pw@tcp(db:3306)/agency"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "mismatch")
	})

	t.Run("dsn supplies database", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		cfg.Database.ConnectionString = "app:pw@tcp(db:3306)/agency"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Equal(t, "agency", cfg.Database.Database)
	})

	t.Run("invalid table override", func(t *testing.T) {
		cfg := validConfig()
		cfg.Naming.TableOverrides = map[string]string{"TeamMember": "team members"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "naming.table_overrides.TeamMember")
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Format = "xml"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.format")
	})

	t.Run("invalid sample ratio", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.TraceSampleRatio = 1.5
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "trace_sample_ratio")
	})

	t.Run("metrics dump without metrics warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.MetricsDump = "-"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "metrics_dump")
	})

	t.Run("invalid OTLP protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.protocol")
	})

	t.Run("valid OTLP protocols", func(t *testing.T) {
		for _, protocol := range []string{"", "grpc", "http/protobuf"} {
			cfg := validConfig()
			cfg.Observability.OTLP.Protocol = protocol
			if protocol == "http/protobuf" {
				cfg.Observability.OTLP.Endpoint = "localhost:4318"
			}
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "protocol %q should be valid", protocol)
		}
	})

	t.Run("invalid OTLP http/protobuf endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "localhost"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.endpoint")
	})

	t.Run("signal override validated", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Traces = &OTLPConfig{Compression: "zstd"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.traces.compression")
	})

	t.Run("max_idle greater than max_open warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxOpen = 10
		cfg.Database.Pool.MaxIdle = 20
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "max_idle")
	})

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = -1
		cfg.Engine.MaxTake = -1
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Len(t, result.Errors, 3)
	})
}

func TestGetTracesConfigMergesOverrides(t *testing.T) {
	cfg := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Compression: "gzip",
			Headers:     map[string]string{"x-team": "agency"},
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"x-signal": "traces"},
		},
	}

	traces := cfg.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, "gzip", traces.Compression)
	assert.Equal(t, map[string]string{"x-team": "agency", "x-signal": "traces"}, traces.Headers)

	assert.Equal(t, cfg.OTLP, cfg.GetLogsConfig())
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
			Hint:    "try this",
		}
		assert.Equal(t, "test.field: test message (hint: try this)", err.Error())
	})

	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
		}
		assert.Equal(t, "test.field: test message", err.Error())
	})
}
