package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Record is the device-flow credential. Refresh is the long-lived device-flow
// token; Access is the short-lived bearer token with Expires in epoch millis
// (0 means unknown or expired).
type Record struct {
	Refresh       string
	Access        string
	Expires       int64
	EnterpriseURL string
}

// storeFile is the on-disk JSON shape. Both enterprise casings are written so
// companion tools reading the same file keep working.
type storeFile struct {
	Type           string `json:"type"`
	Refresh        string `json:"refresh"`
	Access         string `json:"access"`
	Expires        int64  `json:"expires"`
	EnterpriseURL  string `json:"enterpriseUrl,omitempty"`
	EnterpriseURL2 string `json:"enterprise_url,omitempty"`
}

// Store persists a credential record to a single JSON file.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the stored record. A missing file, unreadable content, or a
// record without a refresh token all yield (nil, nil): the caller treats every
// such case as "no credential yet".
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token store %q: %w", s.path, err)
	}

	var raw storeFile
	if err := json.Unmarshal(data, &raw); err != nil {
		logrus.WithError(err).Warn("token store is malformed, ignoring it")
		return nil, nil
	}
	if raw.Refresh == "" {
		return nil, nil
	}

	enterprise := raw.EnterpriseURL
	if enterprise == "" {
		enterprise = raw.EnterpriseURL2
	}

	return &Record{
		Refresh:       raw.Refresh,
		Access:        raw.Access,
		Expires:       raw.Expires,
		EnterpriseURL: enterprise,
	}, nil
}

// Save persists the record atomically: the JSON is written to a temp file in
// the same directory and renamed into place, so a concurrent reader never
// observes a partial write. The parent directory is created if absent.
func (s *Store) Save(rec *Record) error {
	dir := filepath.Dir(s.path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token store directory %q: %w", dir, err)
		}
	}

	payload := storeFile{
		Type:    "oauth",
		Refresh: rec.Refresh,
		Access:  rec.Access,
		Expires: rec.Expires,
	}
	if rec.EnterpriseURL != "" {
		payload.EnterpriseURL = rec.EnterpriseURL
		payload.EnterpriseURL2 = rec.EnterpriseURL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode token store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp token file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token store %q: %w", s.path, err)
	}
	return nil
}
