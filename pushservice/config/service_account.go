package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"golang.org/x/oauth2/google"
)

// FCMDSNFromServiceAccountFile reads a Google service-account JSON file and
// builds the equivalent fcm:// DSN. The project id falls back to
// defaultProjectID when the file does not name one.
func FCMDSNFromServiceAccountFile(path, defaultProjectID string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read fcm service account file: %w", err)
	}
	return FCMDSNFromServiceAccountJSON(raw, defaultProjectID)
}

// FCMDSNFromServiceAccountJSON is FCMDSNFromServiceAccountFile for JSON
// already in memory.
func FCMDSNFromServiceAccountJSON(raw []byte, defaultProjectID string) (string, error) {
	jwtCfg, err := google.JWTConfigFromJSON(raw)
	if err != nil {
		return "", fmt.Errorf("invalid fcm service account: %w", err)
	}
	if jwtCfg.Email == "" || len(jwtCfg.PrivateKey) == 0 {
		return "", fmt.Errorf("invalid fcm service account: client_email and private_key are required")
	}

	// JWTConfigFromJSON drops the project id.
	var account struct {
		ProjectID string `json:"project_id"`
	}
	_ = json.Unmarshal(raw, &account)
	projectID := account.ProjectID
	if projectID == "" {
		projectID = defaultProjectID
	}
	if projectID == "" {
		return "", fmt.Errorf("invalid fcm service account: no project id")
	}

	query := url.Values{"project_id": {projectID}}
	if jwtCfg.TokenURL != "" && jwtCfg.TokenURL != google.JWTTokenURL {
		query.Set("token_url", jwtCfg.TokenURL)
	}
	u := url.URL{
		Scheme:   "fcm",
		User:     url.UserPassword(jwtCfg.Email, string(jwtCfg.PrivateKey)),
		Host:     "default",
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}
