// Package settings stores translatr user credentials.
//
// Credentials live in the XDG data directory:
//
//	$XDG_DATA_HOME/translatr/auth.json  (default: ~/.local/share/translatr/)
//
// The file is a JSON object keyed by service ID, the normalized API URL, so
// a key for a local stub server never leaks to a production endpoint:
//
//	{
//	  "https://translate.example.com/v1": {"type": "api", "key": "...", "savedAt": 1700000000}
//	}
//
// File permissions are 0600 (owner read/write only).
//
// Lookup order for the API key:
//  1. --api-key flag (highest priority)
//  2. TRANSLATR_API_KEY environment variable
//  3. api_key in .translatr.yaml
//  4. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dataDirName = "translatr"
	fileName    = "auth.json"
)

// Info is the credential stored per service.
type Info struct {
	// Type is "api"; other values are ignored by GetAPIKey.
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	// SavedAt is a Unix timestamp.
	SavedAt int64 `json:"savedAt,omitempty"`
}

// IsAPI returns true if this is an API key entry.
func (i *Info) IsAPI() bool {
	return i.Type == "api"
}

// Store holds all credentials, keyed by service ID.
type Store map[string]*Info

// ServiceID normalizes an API URL into a store key: lower-cased scheme and
// host, path without a trailing slash, no query.
func ServiceID(apiURL string) string {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(apiURL), "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

// ---------------------------------------------------------------------------
// File path
// ---------------------------------------------------------------------------

func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the translatr data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// SetAPIKey stores key for the service at apiURL (upsert).
func SetAPIKey(apiURL, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty API key")
	}
	store := Load()
	store[ServiceID(apiURL)] = &Info{Type: "api", Key: key, SavedAt: time.Now().Unix()}
	return Save(store)
}

// GetAPIKey returns the stored key for the service at apiURL, or "".
func GetAPIKey(apiURL string) string {
	info := Load()[ServiceID(apiURL)]
	if info == nil || !info.IsAPI() {
		return ""
	}
	return info.Key
}

// Remove deletes the credential of the service at apiURL. It reports
// whether one existed.
func Remove(apiURL string) (bool, error) {
	store := Load()
	id := ServiceID(apiURL)
	if _, ok := store[id]; !ok {
		return false, nil
	}
	delete(store, id)
	return true, Save(store)
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
