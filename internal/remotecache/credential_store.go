package remotecache

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/omni-build/omni/internal/omnierr"
)

// credentialFile is the on-disk layout of the user-level remote cache
// credential file: BaseURL/Org/Workspace/Env travel in plaintext (not
// secret, needed to locate the config file's owner), the API key and
// tenant are the sensitive fields and travel encrypted.
type credentialFile struct {
	BaseURL          string `json:"baseUrl"`
	Org              string `json:"org"`
	Workspace        string `json:"workspace"`
	Env              string `json:"env"`
	Salt             []byte `json:"salt"`
	EncryptedPayload []byte `json:"encryptedPayload"`
}

// sensitivePayload is the part of Access that gets encrypted at rest.
type sensitivePayload struct {
	APIKey string `json:"apiKey"`
	Tenant string `json:"tenant"`
}

// credentialFilePath resolves the per-user credential file location via
// XDG_CONFIG_HOME (falling back to the usual platform default), for a
// user-level, non-repo-scoped store of remote cache credentials.
func credentialFilePath() (string, error) {
	// xdg caches the environment at package init; read XDG_CONFIG_HOME
	// here so a value set later in the process is honoured.
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		path := filepath.Join(dir, "omni", "remote-cache-credentials.json")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	return xdg.ConfigFile(filepath.Join("omni", "remote-cache-credentials.json"))
}

// SaveCredentials persists access to the user-level credential file,
// encrypting the API key and tenant with a freshly generated salt.
func SaveCredentials(access Access) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}

	plaintext, err := json.Marshal(sensitivePayload{APIKey: access.APIKey, Tenant: access.Tenant})
	if err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}
	encrypted, err := EncryptCredentials(plaintext, salt)
	if err != nil {
		return err
	}

	cf := credentialFile{
		BaseURL:          access.BaseURL,
		Org:              access.Org,
		Workspace:        access.Workspace,
		Env:              access.Env,
		Salt:             salt,
		EncryptedPayload: encrypted,
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}

	path, err := credentialFilePath()
	if err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadCredentials reads back a credential file saved by SaveCredentials,
// reporting ok=false (not an error) when none exists yet.
func LoadCredentials() (Access, bool, error) {
	path, err := credentialFilePath()
	if err != nil {
		return Access{}, false, omnierr.Wrap(omnierr.IoError, err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Access{}, false, nil
	}
	if err != nil {
		return Access{}, false, omnierr.Wrap(omnierr.IoError, err)
	}

	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return Access{}, false, omnierr.Wrap(omnierr.IoError, err)
	}
	plaintext, err := DecryptCredentials(cf.EncryptedPayload, cf.Salt)
	if err != nil {
		return Access{}, false, err
	}
	var payload sensitivePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Access{}, false, omnierr.Wrap(omnierr.IoError, err)
	}

	return Access{
		BaseURL:   cf.BaseURL,
		APIKey:    payload.APIKey,
		Tenant:    payload.Tenant,
		Org:       cf.Org,
		Workspace: cf.Workspace,
		Env:       cf.Env,
	}, true, nil
}
