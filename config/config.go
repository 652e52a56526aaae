// Package config loads the small set of startup files the daemon reads
// once at launch, mirroring the originating application's plain
// open("accesskey")/open("moderators") startup sequence.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/NebulousLabs/errors"
)

// Config holds every value read from the configuration directory.
type Config struct {
	// AccessKey and SecretKey are the durable store's credentials.
	AccessKey string
	SecretKey string

	// WebAPIKey authenticates this daemon to the trust oracle.
	WebAPIKey string

	// AppID parameterises the trust oracle's request URL.
	AppID string

	// Moderators is the allowlisted set of moderator account ids.
	Moderators map[string]struct{}
}

// IsModerator reports whether accountID is in the moderator allowlist.
func (c Config) IsModerator(accountID string) bool {
	_, ok := c.Moderators[accountID]
	return ok
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Load reads accesskey, secretkey, webAPIkey (single-line files) and
// moderators (newline-delimited) from dir. AppID is not file-backed; it is
// baked into the trust oracle's request URL and supplied by the caller.
func Load(dir string) (Config, error) {
	var cfg Config
	var err error

	if cfg.AccessKey, err = readTrimmed(filepath.Join(dir, "accesskey")); err != nil {
		return Config{}, errors.AddContext(err, "could not read accesskey")
	}
	if cfg.SecretKey, err = readTrimmed(filepath.Join(dir, "secretkey")); err != nil {
		return Config{}, errors.AddContext(err, "could not read secretkey")
	}
	if cfg.WebAPIKey, err = readTrimmed(filepath.Join(dir, "webAPIkey")); err != nil {
		return Config{}, errors.AddContext(err, "could not read webAPIkey")
	}

	cfg.Moderators, err = readModerators(filepath.Join(dir, "moderators"))
	if err != nil {
		return Config{}, errors.AddContext(err, "could not read moderators")
	}

	return cfg, nil
}

func readModerators(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	moderators := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		moderators[line] = struct{}{}
	}
	return moderators, scanner.Err()
}
