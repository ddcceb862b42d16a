package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/replydesk/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required secrets that are missing
	Present  map[string]string // Secrets that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which secrets the loaded configuration carries.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := map[string]string{
		"database.url":  cfg.Database.URL,
		"imap.password": cfg.IMAP.Password,
		"smtp.password": cfg.SMTP.Password,
	}
	if cfg.LLM.Provider != "ollama" {
		required["llm.api_key"] = cfg.LLM.APIKey
	}
	if cfg.Embeddings.Provider != "ollama" {
		required["embeddings.api_key"] = cfg.Embeddings.APIKey
	}

	for key, val := range required {
		if val == "" {
			result.Missing = append(result.Missing, key)
		} else {
			result.Present[key] = maskSecret(val)
		}
	}
	sort.Strings(result.Missing)

	if cfg.API.JWTSecret == "" {
		result.Warnings = append(result.Warnings, "api.jwt_secret is empty; operator routes will be unauthenticated")
	} else {
		result.Present["api.jwt_secret"] = maskSecret(cfg.API.JWTSecret)
	}
	if cfg.Guardrails.RedactKey != "" {
		result.Present["guardrails.redact_key"] = maskSecret(cfg.Guardrails.RedactKey)
	} else if cfg.Guardrails.RedactAudit {
		result.Warnings = append(result.Warnings, "guardrails.redact_key is empty; pseudonyms change on every restart")
	}
	if cfg.Agent.DeliveryPolicy == "immediate" {
		result.Warnings = append(result.Warnings, "agent.delivery_policy is immediate; replies can be sent before validation")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required values:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured secrets:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(strings.TrimSpace(key), "export ")
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
