package config

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"signal_bridge/internal/models"
	"signal_bridge/pkg/logger"
)

// channelFile is the on-disk layout of the channel list.
type channelFile struct {
	Channels []models.ChannelConfig `yaml:"channels" mapstructure:"channels"`
	Global   map[string]interface{} `yaml:"global" mapstructure:"global"`
}

// Channels is the live channel registry. Reads are served from memory;
// Watch reloads it when the file changes and Save writes it back atomically.
type Channels struct {
	fs   afero.Fs
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	channels map[string]models.ChannelConfig
	order    []string
	global   map[string]interface{}
}

// LoadChannels reads path. A missing file yields an empty registry.
func LoadChannels(fs afero.Fs, path string) (*Channels, error) {
	c := &Channels{
		fs:       fs,
		path:     path,
		channels: map[string]models.ChannelConfig{},
		global:   map[string]interface{}{},
	}
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	c.v = v

	if exists, _ := afero.Exists(fs, path); !exists {
		logger.Warn("channels file %s not found, starting with no channels", path)
		return c, nil
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channels) reload() error {
	if err := c.v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read channels %s", c.path)
	}
	var file channelFile
	if err := c.v.Unmarshal(&file); err != nil {
		return errors.Wrapf(err, "decode channels %s", c.path)
	}

	channels := make(map[string]models.ChannelConfig, len(file.Channels))
	order := make([]string, 0, len(file.Channels))
	for _, ch := range file.Channels {
		if ch.Name == "" {
			logger.Warn("channels %s: entry without name skipped", c.path)
			continue
		}
		if _, dup := channels[ch.Name]; !dup {
			order = append(order, ch.Name)
		}
		channels[ch.Name] = ch
	}
	if file.Global == nil {
		file.Global = map[string]interface{}{}
	}

	c.mu.Lock()
	c.channels, c.order, c.global = channels, order, file.Global
	c.mu.Unlock()

	logger.Info("loaded %d channels from %s", len(order), c.path)
	return nil
}

// Watch reloads the registry on every change of the file. A broken edit is
// logged and the previous channel list stays active.
func (c *Channels) Watch() {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
			return
		}
		if err := c.reload(); err != nil {
			logger.Error("reload channels: %v", err)
		}
	})
	c.v.WatchConfig()
}

// Get returns the channel by name.
func (c *Channels) Get(name string) (models.ChannelConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[name]
	return ch, ok
}

// All returns the channels in file order.
func (c *Channels) All() []models.ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ChannelConfig, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.channels[name])
	}
	return out
}

// Enabled returns the names of enabled channels, sorted.
func (c *Channels) Enabled() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for name, ch := range c.channels {
		if ch.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Upsert adds or replaces a channel in memory. Call Save to persist.
func (c *Channels) Upsert(ch models.ChannelConfig) error {
	if ch.Name == "" {
		return errors.New("channel name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[ch.Name]; !ok {
		c.order = append(c.order, ch.Name)
	}
	c.channels[ch.Name] = ch
	return nil
}

// Remove deletes a channel in memory and reports whether it existed.
func (c *Channels) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		return false
	}
	delete(c.channels, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Save writes the registry to its file with temp-then-rename.
func (c *Channels) Save() (err error) {
	c.mu.RLock()
	file := channelFile{Channels: make([]models.ChannelConfig, 0, len(c.order)), Global: c.global}
	for _, name := range c.order {
		file.Channels = append(file.Channels, c.channels[name])
	}
	c.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return errors.Wrap(err, "encode channels")
	}

	dir := filepath.Dir(c.path)
	if err = c.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp, err := afero.TempFile(c.fs, dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp channels file")
	}
	defer func() {
		if err != nil {
			_ = c.fs.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp channels file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp channels file")
	}
	if err = c.fs.Rename(tmp.Name(), c.path); err != nil {
		return errors.Wrapf(err, "rename to %s", c.path)
	}
	return nil
}
