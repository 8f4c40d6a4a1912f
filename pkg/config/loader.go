package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/consul/api"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/consul/v2"
	"github.com/knadh/koanf/providers/etcd/v2"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

type ConfigType string

const (
	ConfigTypeFile   ConfigType = "file"
	ConfigTypeConsul ConfigType = "consul"
	ConfigTypeEtcd   ConfigType = "etcd"
)

type LoaderOptions struct {
	Type ConfigType

	// Path is a filesystem path (file) or a key (consul/etcd).
	Path string

	Endpoints []string

	// Watch re-loads the file on change and calls OnChange. Only the
	// threshold sections are safe to hot-apply; callers decide what to do
	// with the new Config.
	Watch    bool
	OnChange func(*Config) error
}

type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Type == "" {
		opts.Type = ConfigTypeFile
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if len(opts.Endpoints) == 0 {
		switch opts.Type {
		case ConfigTypeConsul:
			opts.Endpoints = []string{"localhost:8500"}
		case ConfigTypeEtcd:
			opts.Endpoints = []string{"localhost:2379"}
		}
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		stopChan: make(chan struct{}),
	}, nil
}

func (l *Loader) Load() (*Config, error) {
	var provider koanf.Provider

	switch l.options.Type {
	case ConfigTypeFile:
		raw, err := os.ReadFile(l.options.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		provider = rawbytes.Provider(ExpandEnv(raw))

	case ConfigTypeConsul:
		consulConfig := api.DefaultConfig()
		consulConfig.Address = l.options.Endpoints[0]
		var err error
		provider, err = consul.Provider(consul.Config{
			Cfg: consulConfig,
			Key: l.options.Path,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to consul: %w", err)
		}

	case ConfigTypeEtcd:
		var err error
		provider, err = etcd.Provider(etcd.Config{
			Endpoints:   l.options.Endpoints,
			DialTimeout: 5 * time.Second,
			Key:         l.options.Path,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported config type: %s", l.options.Type)
	}

	l.koanf = koanf.New(".")
	if err := l.koanf.Load(provider, kjson.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := &Config{}
	if err := l.koanf.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if l.options.Watch && l.options.Type == ConfigTypeFile {
		if err := l.startWatch(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (l *Loader) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	l.watcher = watcher

	if err := watcher.Add(filepath.Dir(l.options.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.options.Path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := l.reload()
				if err != nil {
					slog.Warn("Config reload failed, keeping previous config", "error", err)
					continue
				}
				if l.options.OnChange != nil {
					if err := l.options.OnChange(cfg); err != nil {
						slog.Warn("Config change handler failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			case <-l.stopChan:
				return
			}
		}
	}()

	return nil
}

func (l *Loader) reload() (*Config, error) {
	raw, err := os.ReadFile(l.options.Path)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(ExpandEnv(raw)), kjson.Parser()); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.koanf = k
	return cfg, nil
}

// Stop shuts down the file watcher, if any.
func (l *Loader) Stop() {
	close(l.stopChan)
	if l.watcher != nil {
		l.watcher.Close()
	}
}
