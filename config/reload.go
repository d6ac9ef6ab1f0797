package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ConfigChange 代表一项配置更改
type ConfigChange struct {
	// Path 以 yaml 名表示，例如 log.level
	Path            string
	OldValue        any
	NewValue        any
	RequiresRestart bool
}

// ReloadCallback 可热更新字段变化后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// hotReloadable 运行时可直接生效的字段，其余字段变化只记录日志
var hotReloadable = map[string]bool{
	"log.level":               true,
	"server.rate_limit_rps":   true,
	"server.rate_limit_burst": true,
}

// sensitive 日志中不输出值的字段
var sensitive = map[string]bool{
	"redis.password":    true,
	"database.password": true,
	"mqtt.password":     true,
	"agent.api_token":   true,
	"auth.jwt_secret":   true,
}

// Reloader 监听配置文件，把可热更新字段的变化推送给回调
type Reloader struct {
	mu        sync.RWMutex
	loader    *Loader
	current   *Config
	callbacks []ReloadCallback
	watcher   *FileWatcher
	logger    *zap.Logger
}

// NewReloader creates a reloader starting from current.
func NewReloader(loader *Loader, current *Config, logger *zap.Logger, opts ...WatcherOption) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "config_reloader"))
	return &Reloader{
		loader:  loader,
		current: current,
		watcher: NewFileWatcher(loader.ConfigPath(), append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...),
		logger:  logger,
	}
}

// OnReload registers a callback.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload re-reads the file and applies hot-reloadable changes. Invalid files
// leave the active configuration untouched.
func (r *Reloader) Reload() ([]ConfigChange, error) {
	loaded, err := r.loader.Load()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.current
	changes := DetectChanges(old, loaded)
	applied := *old
	hot := false
	for _, c := range changes {
		if !c.RequiresRestart {
			hot = true
		}
	}
	if hot {
		applied.Log.Level = loaded.Log.Level
		applied.Server.RateLimitRPS = loaded.Server.RateLimitRPS
		applied.Server.RateLimitBurst = loaded.Server.RateLimitBurst
		r.current = &applied
	}
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	for _, c := range changes {
		r.logChange(c)
	}
	if hot {
		for _, cb := range callbacks {
			cb(old, &applied)
		}
	}
	return changes, nil
}

// Run watches the config file until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	if r.loader.ConfigPath() == "" {
		return
	}
	r.watcher.Watch(ctx, func(e FileEvent) {
		if e.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current configuration", zap.String("path", e.Path))
			return
		}
		if _, err := r.Reload(); err != nil {
			r.logger.Error("config reload failed", zap.Error(err))
		}
	})
}

func (r *Reloader) logChange(c ConfigChange) {
	fields := []zap.Field{
		zap.String("path", c.Path),
		zap.Bool("requires_restart", c.RequiresRestart),
	}
	if !sensitive[c.Path] {
		fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
	}
	r.logger.Info("configuration changed", fields...)
}

// DetectChanges compares two configurations field by field.
func DetectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)
		if oldField.Kind() == reflect.Struct && field.Type.PkgPath() == t.PkgPath() {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:            path,
				OldValue:        oldField.Interface(),
				NewValue:        newField.Interface(),
				RequiresRestart: !hotReloadable[path],
			})
		}
	}
}

// String renders the change for CLI output.
func (c ConfigChange) String() string {
	if sensitive[c.Path] {
		return c.Path + ": <redacted>"
	}
	return fmt.Sprintf("%s: %v -> %v", c.Path, c.OldValue, c.NewValue)
}
