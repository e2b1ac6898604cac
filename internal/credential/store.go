package credential

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// storeFile is the on-disk credential reference format.
//
// The file names credentials and says where each secret comes from; it
// never contains the secret itself. Example:
//
//	credentials:
//	  core_switch_admin:
//	    username: netops
//	    secret_env: OPSMITH_CRED_CORE_SWITCH
type storeFile struct {
	Credentials map[string]storeEntry `yaml:"credentials"`
}

type storeEntry struct {
	Username string `yaml:"username"`

	// SecretEnv names the environment variable holding the secret.
	SecretEnv string `yaml:"secret_env"`

	// Secret exists only to reject inline secrets at load time.
	Secret string `yaml:"secret,omitempty"`
}

// LoadStatic reads a credential reference file and resolves every secret
// from its named environment variable.
//
// Loading fails if any entry carries an inline secret, names no
// environment variable, or names one that is unset. Failing at startup
// beats failing mid-execution against half a device fleet.
func LoadStatic(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credential file: %w", err)
	}

	credentials := make(map[string]Credential, len(file.Credentials))
	for ref, entry := range file.Credentials {
		if entry.Secret != "" {
			return nil, fmt.Errorf("credential %q: inline secrets are not permitted, use secret_env", ref)
		}
		if entry.Username == "" {
			return nil, fmt.Errorf("credential %q: username is required", ref)
		}
		if entry.SecretEnv == "" {
			return nil, fmt.Errorf("credential %q: secret_env is required", ref)
		}

		secret := os.Getenv(entry.SecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("credential %q: environment variable %s is not set", ref, entry.SecretEnv)
		}

		credentials[ref] = New(entry.Username, secret)
	}

	return NewStaticResolver(credentials), nil
}
