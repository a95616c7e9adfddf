package account

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileSchema is the exact on-disk shape (§6): an account list, pool
// settings, and the current sticky index.
type fileSchema struct {
	Accounts []fileAccount `json:"accounts"`
	Settings fileSettings  `json:"settings"`
	Active   int           `json:"activeIndex"`
}

type fileAccount struct {
	Email              string     `json:"email"`
	Source             Source     `json:"source"`
	DBPath             string     `json:"dbPath,omitempty"`
	RefreshToken       string     `json:"refreshToken,omitempty"`
	APIKey             string     `json:"apiKey,omitempty"`
	ProjectID          string     `json:"projectId,omitempty"`
	AddedAt            *time.Time `json:"addedAt,omitempty"`
	IsRateLimited      bool       `json:"isRateLimited"`
	RateLimitResetTime *time.Time `json:"rateLimitResetTime,omitempty"`
	IsInvalid          bool       `json:"isInvalid"`
	InvalidReason      string     `json:"invalidReason,omitempty"`
	Disabled           bool       `json:"disabled,omitempty"`
	LastUsed           *time.Time `json:"lastUsed,omitempty"`
}

type fileSettings struct {
	DefaultCooldownMs    int64 `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`
}

func toFileAccount(a *Account) fileAccount {
	return fileAccount{
		Email: a.Email, Source: a.Source, DBPath: a.DBPath,
		RefreshToken: a.RefreshToken, APIKey: a.APIKey, ProjectID: a.ProjectID,
		AddedAt: a.AddedAt, IsRateLimited: a.IsRateLimited,
		RateLimitResetTime: a.RateLimitResetTime, IsInvalid: a.IsInvalid,
		InvalidReason: a.InvalidReason, Disabled: a.Disabled, LastUsed: a.LastUsed,
	}
}

func fromFileAccount(f fileAccount) *Account {
	return &Account{
		Email: f.Email, Source: f.Source, DBPath: f.DBPath,
		RefreshToken: f.RefreshToken, APIKey: f.APIKey, ProjectID: f.ProjectID,
		AddedAt: f.AddedAt, IsRateLimited: f.IsRateLimited,
		RateLimitResetTime: f.RateLimitResetTime, IsInvalid: f.IsInvalid,
		InvalidReason: f.InvalidReason, Disabled: f.Disabled, LastUsed: f.LastUsed,
	}
}

// Store reads and writes the account pool's JSON file at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the account file. A missing file yields an empty pool rather
// than an error, so a fresh deployment can start with zero accounts and
// have them added via the CLI.
func (s *Store) Load() ([]*Account, int, Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, 0, defaultSettings(), nil
	}
	if err != nil {
		return nil, 0, Settings{}, fmt.Errorf("read account file: %w", err)
	}

	var fs fileSchema
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, 0, Settings{}, fmt.Errorf("parse account file: %w", err)
	}

	accounts := make([]*Account, len(fs.Accounts))
	for i, fa := range fs.Accounts {
		accounts[i] = fromFileAccount(fa)
	}

	settings := Settings{
		DefaultCooldown:    time.Duration(fs.Settings.DefaultCooldownMs) * time.Millisecond,
		MaxWaitBeforeError: time.Duration(fs.Settings.MaxWaitBeforeErrorMs) * time.Millisecond,
	}
	if settings.DefaultCooldown == 0 {
		settings.DefaultCooldown = defaultSettings().DefaultCooldown
	}
	if settings.MaxWaitBeforeError == 0 {
		settings.MaxWaitBeforeError = defaultSettings().MaxWaitBeforeError
	}

	return accounts, fs.Active, settings, nil
}

func defaultSettings() Settings {
	return Settings{DefaultCooldown: 60_000 * time.Millisecond, MaxWaitBeforeError: 120_000 * time.Millisecond}
}

// Save atomically rewrites the account file: write to a sibling temp file,
// then rename over the target, so a concurrent reader never observes a
// partially-written file.
func (s *Store) Save(accounts []*Account, activeIndex int, settings Settings) error {
	fs := fileSchema{
		Accounts: make([]fileAccount, len(accounts)),
		Settings: fileSettings{
			DefaultCooldownMs:    settings.DefaultCooldown.Milliseconds(),
			MaxWaitBeforeErrorMs: settings.MaxWaitBeforeError.Milliseconds(),
		},
		Active: activeIndex,
	}
	for i, a := range accounts {
		fs.Accounts[i] = toFileAccount(a)
	}

	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp account file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp account file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp account file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename account file: %w", err)
	}
	return nil
}

// PersistFunc adapts the store to the signature Pool expects, logging
// (not failing the request) on error — persistence is best-effort per the
// concurrency model.
func (s *Store) PersistFunc() func([]*Account, int, Settings) {
	return func(accounts []*Account, index int, settings Settings) {
		if err := s.Save(accounts, index, settings); err != nil {
			s.logger.Error("persist account file", "error", err, "path", s.path)
		}
	}
}

// Watch starts an fsnotify watcher on the account file's directory and
// calls reload whenever the file is written or renamed into place (e.g. an
// operator hand-editing credentials on disk, or a second process's atomic
// rewrite). It runs until ctx-independent stop is requested by closing the
// returned channel's watcher is done by calling the returned cancel func.
func (s *Store) Watch(reload func(accounts []*Account, index int, settings Settings)) (cancel func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch account dir: %w", err)
	}

	target := filepath.Clean(s.path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				accounts, index, settings, err := s.Load()
				if err != nil {
					s.logger.Warn("reload account file after external edit", "error", err)
					continue
				}
				reload(accounts, index, settings)
				s.logger.Info("reloaded account file after external edit", "accounts", len(accounts))
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("account file watcher error", "error", werr)
			}
		}
	}()

	return watcher.Close, nil
}
