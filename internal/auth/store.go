package auth

import (
	"path/filepath"

	"github.com/cloudtree/cloudtree/internal/tokenfile"
)

// tokenFileSuffix is appended to the provider name to form the token file.
const tokenFileSuffix = ".token.json"

// FileStore persists a credential as a token file under Dir, named after
// the provider.
type FileStore struct {
	Dir      string
	Provider string
}

// NewFileStore returns a store for <dir>/<provider>.token.json.
func NewFileStore(dir, provider string) *FileStore {
	return &FileStore{Dir: dir, Provider: provider}
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.Dir, s.Provider+tokenFileSuffix)
}

// Load reads the credential. Returns (nil, nil) if no token file exists.
func (s *FileStore) Load() (*Credential, error) {
	tf, err := tokenfile.Load(s.Path())
	if err != nil || tf == nil {
		return nil, err
	}

	return &Credential{Token: tf.Token, Host: tf.Host}, nil
}

// Save writes the credential atomically.
func (s *FileStore) Save(cred Credential) error {
	return tokenfile.Save(s.Path(), &tokenfile.File{Token: cred.Token, Host: cred.Host})
}

// Remove deletes the token file; a missing file is not an error.
func (s *FileStore) Remove() error {
	return tokenfile.Remove(s.Path())
}
