package qase

import (
	"errors"
	"fmt"

	"assistnerd-mcp-server/internal/storage"
)

const credentialsKey = "qase_credentials"

// Credentials are the saved API settings. They survive restarts so the
// server can come back up without the token in its config file.
type Credentials struct {
	APIToken    string `json:"api_token"`
	ProjectCode string `json:"project_code"`
	BaseURL     string `json:"base_url,omitempty"`
}

// LoadCredentials reads saved credentials. Returns storage.ErrNotFound
// when none were saved.
func LoadCredentials(store *storage.Store) (Credentials, error) {
	var c Credentials
	if store == nil {
		return c, storage.ErrNotFound
	}
	if err := store.GetJSON(credentialsKey, &c); err != nil {
		return Credentials{}, err
	}
	if c.APIToken == "" || c.ProjectCode == "" {
		return Credentials{}, storage.ErrNotFound
	}
	return c, nil
}

// SaveCredentials persists credentials for later runs.
func SaveCredentials(store *storage.Store, c Credentials) error {
	if store == nil {
		return errors.New("qase: no credential store")
	}
	if c.APIToken == "" || c.ProjectCode == "" {
		return fmt.Errorf("qase: incomplete credentials")
	}
	return store.PutJSON(credentialsKey, c)
}

// ClearCredentials removes any saved credentials.
func ClearCredentials(store *storage.Store) error {
	if store == nil {
		return nil
	}
	return store.Remove(credentialsKey)
}
