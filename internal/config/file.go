package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ClientFile is the optional YAML file read by the command line client.
type ClientFile struct {
	BaseURL              string            `yaml:"base_url"`
	Username             string            `yaml:"username"`
	AutosaveDelaySeconds int               `yaml:"autosave_delay_seconds"`
	ReorderQuietMS       int               `yaml:"reorder_quiet_ms"`
	Fields               map[string]string `yaml:"fields"`
	Messages             Messages          `yaml:"messages"`
}

// LoadClientFile reads path from fsys. A missing file yields an empty
// ClientFile.
func LoadClientFile(fsys afero.Fs, path string) (ClientFile, error) {
	var file ClientFile
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("read client config: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse client config %s: %w", path, err)
	}
	return file, nil
}

// WithClientFile fills the client settings from file. Values set through the
// environment win.
func (c Config) WithClientFile(file ClientFile) Config {
	if file.BaseURL != "" && !isSet("NEWSAGENT_BASE_URL") {
		c.BaseURL = file.BaseURL
	}
	if file.Username != "" && !isSet("NEWSAGENT_USER") {
		c.Username = file.Username
	}
	if file.AutosaveDelaySeconds > 0 && !isSet("NEWSAGENT_AUTOSAVE_DELAY_SECONDS") {
		c.AutosaveDelay = time.Duration(file.AutosaveDelaySeconds) * time.Second
	}
	if file.ReorderQuietMS > 0 && !isSet("NEWSAGENT_REORDER_QUIET_MS") {
		c.ReorderQuiet = time.Duration(file.ReorderQuietMS) * time.Millisecond
	}
	fields := make(map[string]string, len(c.Fields)+len(file.Fields))
	for id, path := range c.Fields {
		fields[id] = path
	}
	for id, path := range file.Fields {
		fields[id] = path
	}
	c.Fields = fields
	c.Messages = mergeMessages(c.Messages, file.Messages)
	return c
}

func mergeMessages(base, override Messages) Messages {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return Messages{
		LoginCheck: pick(base.LoginCheck, override.LoginCheck),
		Restoring:  pick(base.Restoring, override.Restoring),
		Checking:   pick(base.Checking, override.Checking),
		Saving:     pick(base.Saving, override.Saving),
		Failed:     pick(base.Failed, override.Failed),
		Unload:     pick(base.Unload, override.Unload),
	}
}

func isSet(key string) bool {
	value, ok := os.LookupEnv(key)
	return ok && value != ""
}
