package config

import (
	"strings"
	"testing"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"PORT", "USE_HTTPS", "SESSION_TIMEOUT_HOURS", "MAX_CONTENT_LENGTH", "SERVER_ENV",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"REDIS_URL", "STATE_STORE_REDIS_URL", "RATE_LIMIT_STORAGE_URI", "MESSAGE_QUEUE",
		"SOCKET_SEND_MESSAGE_PER_MINUTE", "SOCKET_PIN_UPDATED_PER_MINUTE",
		"FEATURE_OIDC_ENABLED", "FEATURE_AV_SCAN_ENABLED", "FEATURE_REDIS_ENABLED", "FEATURE_MFA_ENABLED",
		"ARGON2_MEMORY", "ARGON2_ITERATIONS", "ARGON2_PARALLELISM", "ARGON2_SALT_LENGTH", "ARGON2_KEY_LENGTH",
		"RATE_LIMIT_REGISTER_PER_MINUTE", "RATE_LIMIT_LOGIN_PER_MINUTE",
		"RATE_LIMIT_UPLOAD_PER_MINUTE", "RATE_LIMIT_ADVANCED_SEARCH_PER_MINUTE",
		"MAINTENANCE_INTERVAL_SECONDS", "RETENTION_DAYS", "ACCESS_LOG_RETENTION_DAYS",
		"AV_SCANNER", "AV_CLAMD_HOST", "AV_CLAMD_PORT", "AV_SCAN_TIMEOUT_SECONDS",
		"JWT_SECRET", "SERVER_SECRET",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.UseHTTPS {
		t.Error("UseHTTPS = true, want false")
	}
	if cfg.SessionTimeoutHrs != 24*7 {
		t.Errorf("SessionTimeoutHrs = %d, want %d", cfg.SessionTimeoutHrs, 24*7)
	}

	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.DatabaseMinConn != 5 {
		t.Errorf("DatabaseMinConn = %d, want 5", cfg.DatabaseMinConn)
	}

	if cfg.Argon2Memory != 65536 {
		t.Errorf("Argon2Memory = %d, want 65536", cfg.Argon2Memory)
	}
	if cfg.Argon2Iterations != 3 {
		t.Errorf("Argon2Iterations = %d, want 3", cfg.Argon2Iterations)
	}
	if cfg.Argon2Parallelism != 2 {
		t.Errorf("Argon2Parallelism = %d, want 2", cfg.Argon2Parallelism)
	}
	if cfg.Argon2SaltLength != 16 {
		t.Errorf("Argon2SaltLength = %d, want 16", cfg.Argon2SaltLength)
	}
	if cfg.Argon2KeyLength != 32 {
		t.Errorf("Argon2KeyLength = %d, want 32", cfg.Argon2KeyLength)
	}

	if cfg.SocketSendMessagePerMinute != 30 {
		t.Errorf("SocketSendMessagePerMinute = %d, want 30", cfg.SocketSendMessagePerMinute)
	}
	if cfg.SocketPinUpdatedPerMinute != 10 {
		t.Errorf("SocketPinUpdatedPerMinute = %d, want 10", cfg.SocketPinUpdatedPerMinute)
	}

	if cfg.GatewayHeartbeatIntervalMS != 25000 {
		t.Errorf("GatewayHeartbeatIntervalMS = %d, want 25000", cfg.GatewayHeartbeatIntervalMS)
	}
	if cfg.GatewayPingTimeoutMS != 120000 {
		t.Errorf("GatewayPingTimeoutMS = %d, want 120000", cfg.GatewayPingTimeoutMS)
	}
	if cfg.GatewayMaxConnections != 10000 {
		t.Errorf("GatewayMaxConnections = %d, want 10000", cfg.GatewayMaxConnections)
	}
	if cfg.GatewayReplayBufferSize != 50 {
		t.Errorf("GatewayReplayBufferSize = %d, want 50", cfg.GatewayReplayBufferSize)
	}
	if cfg.GatewaySessionTTLSeconds != 300 {
		t.Errorf("GatewaySessionTTLSeconds = %d, want 300", cfg.GatewaySessionTTLSeconds)
	}
	if cfg.RoomListCacheTTLSeconds != 300 {
		t.Errorf("RoomListCacheTTLSeconds = %d, want 300", cfg.RoomListCacheTTLSeconds)
	}

	if cfg.FeatureOIDCEnabled {
		t.Error("FeatureOIDCEnabled = true, want false")
	}
	if cfg.FeatureAVScanEnabled {
		t.Error("FeatureAVScanEnabled = true, want false")
	}
	if cfg.FeatureRedisEnabled {
		t.Error("FeatureRedisEnabled = true, want false")
	}

	if cfg.RateLimitRegisterPerMinute != 5 {
		t.Errorf("RateLimitRegisterPerMinute = %d, want 5", cfg.RateLimitRegisterPerMinute)
	}
	if cfg.RateLimitLoginPerMinute != 10 {
		t.Errorf("RateLimitLoginPerMinute = %d, want 10", cfg.RateLimitLoginPerMinute)
	}
	if cfg.RateLimitUploadPerMinute != 10 {
		t.Errorf("RateLimitUploadPerMinute = %d, want 10", cfg.RateLimitUploadPerMinute)
	}
	if cfg.RateLimitAdvancedSearchPerMinute != 30 {
		t.Errorf("RateLimitAdvancedSearchPerMinute = %d, want 30", cfg.RateLimitAdvancedSearchPerMinute)
	}

	if cfg.MaintenanceIntervalSeconds != 300 {
		t.Errorf("MaintenanceIntervalSeconds = %d, want 300", cfg.MaintenanceIntervalSeconds)
	}
	if cfg.RetentionDays != 0 {
		t.Errorf("RetentionDays = %d, want 0", cfg.RetentionDays)
	}
	if cfg.AccessLogRetentionDays != 90 {
		t.Errorf("AccessLogRetentionDays = %d, want 90", cfg.AccessLogRetentionDays)
	}

	if cfg.AVScanner != "none" {
		t.Errorf("AVScanner = %q, want %q", cfg.AVScanner, "none")
	}
	if cfg.AVScanTimeoutSeconds != 15 {
		t.Errorf("AVScanTimeoutSeconds = %d, want 15", cfg.AVScanTimeoutSeconds)
	}
}

func TestLoadValidationRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("error %q does not mention JWT_SECRET", err.Error())
	}
}

func TestLoadValidationJWTSecretTooShort(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for short JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET must be at least 32 characters") {
		t.Errorf("error %q does not mention minimum length", err.Error())
	}
}

func TestLoadValidationRequiresServerSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing SERVER_SECRET")
	}
	if !strings.Contains(err.Error(), "SERVER_SECRET") {
		t.Errorf("error %q does not mention SERVER_SECRET", err.Error())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-that-is-32-chars!")
	t.Setenv("SERVER_SECRET", strings.Repeat("cd", 32))
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("DATABASE_MAX_CONNS", "50")
	t.Setenv("ARGON2_MEMORY", "131072")
	t.Setenv("SOCKET_SEND_MESSAGE_PER_MINUTE", "5")
	t.Setenv("MAINTENANCE_INTERVAL_SECONDS", "60")
	t.Setenv("RETENTION_DAYS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.ServerEnv != "development" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "development")
	}
	if cfg.DatabaseMaxConn != 50 {
		t.Errorf("DatabaseMaxConn = %d, want 50", cfg.DatabaseMaxConn)
	}
	if cfg.Argon2Memory != 131072 {
		t.Errorf("Argon2Memory = %d, want 131072", cfg.Argon2Memory)
	}
	if cfg.SocketSendMessagePerMinute != 5 {
		t.Errorf("SocketSendMessagePerMinute = %d, want 5", cfg.SocketSendMessagePerMinute)
	}
	if cfg.MaintenanceIntervalSeconds != 60 {
		t.Errorf("MaintenanceIntervalSeconds = %d, want 60", cfg.MaintenanceIntervalSeconds)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
}

func TestMaintenanceIntervalFloor(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))
	t.Setenv("MAINTENANCE_INTERVAL_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.MaintenanceIntervalSeconds != 30 {
		t.Errorf("MaintenanceIntervalSeconds = %d, want floor of 30", cfg.MaintenanceIntervalSeconds)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "PORT") {
		t.Errorf("error %q does not mention PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q does not include the invalid value", err.Error())
	}
}

func TestLoadInvalidBool(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))
	t.Setenv("USE_HTTPS", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "USE_HTTPS") {
		t.Errorf("error %q does not mention USE_HTTPS", err.Error())
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))
	t.Setenv("PORT", "abc")
	t.Setenv("DATABASE_MAX_CONNS", "xyz")
	t.Setenv("USE_HTTPS", "nope")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want multiple parse errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "PORT") {
		t.Errorf("error missing PORT, got: %s", errStr)
	}
	if !strings.Contains(errStr, "DATABASE_MAX_CONNS") {
		t.Errorf("error missing DATABASE_MAX_CONNS, got: %s", errStr)
	}
	if !strings.Contains(errStr, "USE_HTTPS") {
		t.Errorf("error missing USE_HTTPS, got: %s", errStr)
	}
}

func TestBodyLimitBytes(t *testing.T) {
	cfg := &Config{MaxContentLength: 100 * 1024 * 1024}
	want := 100 * 1024 * 1024
	if got := cfg.BodyLimitBytes(); got != want {
		t.Errorf("BodyLimitBytes() = %d, want %d", got, want)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
		{"staging", false},
	}
	for _, tt := range tests {
		cfg := &Config{ServerEnv: tt.env}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with env=%q = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestAVEnabled(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		scanner string
		want    bool
	}{
		{"flag off", false, "clamd", false},
		{"flag on, scanner none", true, "none", false},
		{"flag on, scanner empty", true, "", false},
		{"flag on, scanner set", true, "clamd", true},
	}
	for _, tt := range tests {
		cfg := &Config{FeatureAVScanEnabled: tt.enabled, AVScanner: tt.scanner}
		if got := cfg.AVEnabled(); got != tt.want {
			t.Errorf("%s: AVEnabled() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOIDCConfigured(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		clientID  string
		issuerURL string
		want      bool
	}{
		{"flag off", false, "client", "https://issuer.example.com", false},
		{"flag on, no client id", true, "", "https://issuer.example.com", false},
		{"flag on, no issuer or authorize url", true, "client", "", false},
		{"flag on, fully configured", true, "client", "https://issuer.example.com", true},
	}
	for _, tt := range tests {
		cfg := &Config{FeatureOIDCEnabled: tt.enabled, OIDCClientID: tt.clientID, OIDCIssuerURL: tt.issuerURL}
		if got := cfg.OIDCConfigured(); got != tt.want {
			t.Errorf("%s: OIDCConfigured() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadOIDCValidationRequiresClientID(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")
	t.Setenv("SERVER_SECRET", strings.Repeat("ab", 32))
	t.Setenv("FEATURE_OIDC_ENABLED", "true")
	t.Setenv("OIDC_CLIENT_ID", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing OIDC_CLIENT_ID")
	}
	if !strings.Contains(err.Error(), "OIDC_CLIENT_ID") {
		t.Errorf("error %q does not mention OIDC_CLIENT_ID", err.Error())
	}
}
