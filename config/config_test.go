package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{
			Driver: "mongodb",
			Dns:    "mongodb://localhost",
		},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil {
		t.Errorf("Expected unsupported driver error, got nil")
	}

	// Test case with all required fields filled, expect no error
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432/pigwatch",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.DataSource.Driver != DriverPostgres {
		t.Errorf("Expected default driver %s, got %s", DriverPostgres, cnf.DataSource.Driver)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Sender.MaxAttempts != 5 || cnf.Sender.RequestTimeoutSec != 10 || cnf.Sender.StaleLockSec != 300 {
		t.Errorf("Unexpected sender defaults: %+v", cnf.Sender)
	}
	if len(cnf.Sender.BackoffScheduleS) != 6 || cnf.Sender.BackoffScheduleS[5] != 600 {
		t.Errorf("Unexpected backoff schedule: %v", cnf.Sender.BackoffScheduleS)
	}
	if cnf.Engine.POITolMeters != 50 || cnf.Engine.MetersPerChannel != 25 {
		t.Errorf("Unexpected engine defaults: %+v", cnf.Engine)
	}
	if cnf.Detector.DefaultToolType != "Cleaning Tool" {
		t.Errorf("Unexpected default tool type: %s", cnf.Detector.DefaultToolType)
	}
	if cnf.Sender.WorkerName == "" {
		t.Errorf("Expected a default sender worker name")
	}

	// Explicit values survive defaulting
	cnf = Configuration{
		DataSource: DataSourceConfig{Driver: "SQLite", Dns: "file:pigwatch.db"},
		Sender:     SenderConfig{MaxAttempts: 3, BackoffScheduleS: []int{1, 2}},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.DataSource.Driver != DriverSQLite {
		t.Errorf("Expected sqlite driver, got %s", cnf.DataSource.Driver)
	}
	if cnf.Sender.MaxAttempts != 3 || len(cnf.Sender.BackoffScheduleS) != 2 {
		t.Errorf("Explicit sender values were overwritten: %+v", cnf.Sender)
	}
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.RateLimit.Burst == nil || *cnf.RateLimit.Burst != 20 {
		t.Errorf("Expected burst 20, got %v", cnf.RateLimit.Burst)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil || *cnf.RateLimit.CleanupIntervalSec != 10800 {
		t.Errorf("Expected default cleanup interval, got %v", cnf.RateLimit.CleanupIntervalSec)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "pigwatch.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Approval: ApprovalConfig{GatedTypes: []string{"RUN_COMPLETED"}},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("PIGWATCH_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("PIGWATCH_PROJECT_NAME")
	os.Setenv("PIGWATCH_SENDER_ENDPOINT", "http://api.local/notify")
	defer os.Unsetenv("PIGWATCH_SENDER_ENDPOINT")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
	if loadedConfig.Sender.Endpoint != "http://api.local/notify" {
		t.Errorf("Expected sender endpoint from env, got '%s'", loadedConfig.Sender.Endpoint)
	}
	if len(loadedConfig.Approval.GatedTypes) != 1 || loadedConfig.Approval.GatedTypes[0] != "RUN_COMPLETED" {
		t.Errorf("Expected gated types from file, got %v", loadedConfig.Approval.GatedTypes)
	}
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "pigwatch.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource: DataSourceConfig{
			Dns: "init-config-dns",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
}
