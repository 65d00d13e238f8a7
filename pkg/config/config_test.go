package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(env(map[string]string{"MONGO_URL": "mongodb://db:27017"}))
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.MongoURL)
	assert.Equal(t, DefaultMongoDB, cfg.MongoDB)
	assert.Equal(t, "/tmp/agg.log", cfg.LogFile)
	assert.Equal(t, 14400*time.Second, cfg.PollInterval)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultBasePath, cfg.BasePath)
	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, SourceMongo, cfg.Source)
	assert.Equal(t, SinkMongo, cfg.Sink)
	assert.False(t, cfg.SkipDone)
	assert.Equal(t, ":8080", cfg.StatusAddr)
	assert.Empty(t, cfg.JournalPath)
	assert.Equal(t, DefaultJournalRetention, cfg.JournalRetention)
	assert.Equal(t, DevAPIURL, cfg.APIURL())
}

func TestLoad_MissingMongoURL(t *testing.T) {
	cfg, err := Load(env(map[string]string{}))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config error")
	assert.Contains(t, err.Error(), "MONGO_URL is required")
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"MONGO_URL":         "mongodb://db",
		"MONGO_DB":          "nmdc_dev",
		"LOG_FILE":          "/var/log/agg.log",
		"POLL_TIME":         "60",
		"NMDC_BASE_URL":     "https://example.org/data",
		"NMDC_BASE_PATH":    "/mnt/results",
		"ENV":               "PROD",
		"AGG_SKIP_DONE":     "true",
		"STATUS_ADDR":       "",
		"JOURNAL_PATH":      "/var/lib/agg",
		"JOURNAL_RETENTION": "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "nmdc_dev", cfg.MongoDB)
	assert.Equal(t, "/var/log/agg.log", cfg.LogFile)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, "https://example.org/data", cfg.BaseURL)
	assert.Equal(t, "/mnt/results", cfg.BasePath)
	assert.Equal(t, EnvProd, cfg.Env)
	assert.Equal(t, ProdAPIURL, cfg.APIURL())
	assert.True(t, cfg.SkipDone)
	assert.Empty(t, cfg.StatusAddr, "explicitly empty STATUS_ADDR disables the listener")
	assert.Equal(t, "/var/lib/agg", cfg.JournalPath)
	assert.Equal(t, 5, cfg.JournalRetention)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{
			name:    "non-numeric poll time",
			vars:    map[string]string{"POLL_TIME": "soon"},
			wantErr: "POLL_TIME must be an integer",
		},
		{
			name:    "zero poll time",
			vars:    map[string]string{"POLL_TIME": "0"},
			wantErr: "POLL_TIME failed gt",
		},
		{
			name:    "unknown env",
			vars:    map[string]string{"ENV": "staging"},
			wantErr: "ENV must be one of [prod dev]",
		},
		{
			name:    "unknown source",
			vars:    map[string]string{"AGG_SOURCE": "s3"},
			wantErr: "AGG_SOURCE must be one of",
		},
		{
			name:    "api source without credentials",
			vars:    map[string]string{"AGG_SOURCE": "api"},
			wantErr: "NMDC_CLIENT_ID is required when AGG_SOURCE=api",
		},
		{
			name:    "api sink without credentials",
			vars:    map[string]string{"AGG_SINK": "api", "AGG_SKIP_DONE": "true"},
			wantErr: "NMDC_CLIENT_PW is required when AGG_SINK=api",
		},
		{
			name:    "api sink recomputing every unit",
			vars:    map[string]string{"AGG_SINK": "api", "NMDC_CLIENT_ID": "id", "NMDC_CLIENT_PW": "pw"},
			wantErr: "AGG_SKIP_DONE must be true when AGG_SINK=api",
		},
		{
			name:    "unknown sink",
			vars:    map[string]string{"AGG_SINK": "file"},
			wantErr: "AGG_SINK must be one of [mongo api]",
		},
		{
			name:    "relative base url",
			vars:    map[string]string{"NMDC_BASE_URL": "data/results"},
			wantErr: "NMDC_BASE_URL must be an absolute URL",
		},
		{
			name:    "bad bool",
			vars:    map[string]string{"AGG_SKIP_DONE": "maybe"},
			wantErr: "AGG_SKIP_DONE must be a boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[string]string{"MONGO_URL": "mongodb://db"}
			for k, v := range tt.vars {
				vars[k] = v
			}
			_, err := Load(env(vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_APISourceWithCredentials(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"MONGO_URL":      "mongodb://db",
		"AGG_SOURCE":     "api",
		"NMDC_CLIENT_ID": "id",
		"NMDC_CLIENT_PW": "secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, cfg.Source)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, "secret", cfg.ClientSecret)
}

func TestLoad_APISink(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"MONGO_URL":      "mongodb://db",
		"AGG_SINK":       "API",
		"AGG_SKIP_DONE":  "1",
		"NMDC_CLIENT_ID": "id",
		"NMDC_CLIENT_PW": "secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, SinkAPI, cfg.Sink)
	assert.Equal(t, SourceMongo, cfg.Source)
	assert.True(t, cfg.SkipDone)
}
