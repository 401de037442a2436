package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server       ServerSettings       `json:"server"`
	Scrapers     []ScraperConfig      `json:"scrapers"`
	FlareSolverr FlareSolverrSettings `json:"flaresolverr"`
	FileShare    FileShareSettings    `json:"fileShare"`
	MagnetInfo   MagnetInfoSettings   `json:"magnetInfo"`
	Probe        ProbeSettings        `json:"probe"`
	Download     DownloadSettings     `json:"download"`
	Log          LogConfig            `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ScraperConfig is the per-site configuration blob, keyed by scraper ID.
// Mutations go through the registry and are persisted on every change.
type ScraperConfig struct {
	ID                      string   `json:"id"`
	Enabled                 bool     `json:"enabled"`
	SiteURL                 string   `json:"siteUrl"`
	UseProxy                bool     `json:"useProxy"`
	RequiresChallengeBypass bool     `json:"requiresChallengeBypass"`
	BrowserMode             string   `json:"browserMode"` // "none" | "automated"
	Headless                bool     `json:"headless"`
	Username                string   `json:"username,omitempty"`
	Password                string   `json:"password,omitempty"`
	Tags                    []string `json:"tags,omitempty"`
	BatchConcurrency        int      `json:"batchConcurrency"`
	MaxResultItems          int      `json:"maxResultItems"`
	MaxLoadPages            int      `json:"maxLoadPages"`
	RateLimitCount          int      `json:"rateLimitCount"`
	RateLimitSeconds        int      `json:"rateLimitSeconds"`
}

type FlareSolverrSettings struct {
	URL               string `json:"url"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

type FileShareSettings struct {
	URL string `json:"url"`
}

type MagnetInfoSettings struct {
	URL string `json:"url"`
}

type ProbeSettings struct {
	IntervalMinutes int  `json:"intervalMinutes"`
	RunOnStart      bool `json:"runOnStart"`
}

type DownloadSettings struct {
	StagingDir string `json:"stagingDir"`
}

// LogConfig controls log-file rotation.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// defaultScraperConfigs is the per-site defaults table. Reset operations
// restore entries from here.
func defaultScraperConfigs() []ScraperConfig {
	return []ScraperConfig{
		{
			ID:                      "onelou",
			Enabled:                 true,
			SiteURL:                 "https://www.1lou.me",
			RequiresChallengeBypass: true,
			BrowserMode:             "automated",
			Headless:                true,
			Tags:                    []string{"forum", "magnet"},
			BatchConcurrency:        4,
			MaxResultItems:          30,
			MaxLoadPages:            2,
			RateLimitCount:          20,
			RateLimitSeconds:        300,
		},
		{
			ID:               "gying",
			Enabled:          false, // needs credentials
			SiteURL:          "https://www.gying.si",
			BrowserMode:      "automated",
			Headless:         true,
			Tags:             []string{"login", "magnet"},
			BatchConcurrency: 3,
			MaxResultItems:   20,
			MaxLoadPages:     1,
			RateLimitCount:   15,
			RateLimitSeconds: 300,
		},
		{
			ID:               "cilixiong",
			Enabled:          true,
			SiteURL:          "https://www.cilixiong.com",
			BrowserMode:      "none",
			Tags:             []string{"magnet"},
			BatchConcurrency: 4,
			MaxResultItems:   30,
			MaxLoadPages:     2,
			RateLimitCount:   30,
			RateLimitSeconds: 300,
		},
		{
			ID:               "btdx8",
			Enabled:          true,
			SiteURL:          "https://www.btdx8.vip",
			BrowserMode:      "none",
			Tags:             []string{"magnet", "torrent"},
			BatchConcurrency: 4,
			MaxResultItems:   30,
			MaxLoadPages:     1,
			RateLimitCount:   30,
			RateLimitSeconds: 300,
		},
		{
			ID:                      "wuqian",
			Enabled:                 false, // needs a file-share endpoint
			SiteURL:                 "https://www.wuqianw.com",
			RequiresChallengeBypass: true,
			BrowserMode:             "automated",
			Headless:                true,
			Tags:                    []string{"torrent", "download"},
			BatchConcurrency:        2,
			MaxResultItems:          10,
			MaxLoadPages:            1,
			RateLimitCount:          10,
			RateLimitSeconds:        300,
		},
	}
}

// DefaultScraperConfig returns the defaults-table entry for one scraper ID.
func DefaultScraperConfig(id string) (ScraperConfig, bool) {
	for _, sc := range defaultScraperConfigs() {
		if sc.ID == id {
			return sc, true
		}
	}
	return ScraperConfig{}, false
}

func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8632},
		Scrapers: defaultScraperConfigs(),
		FlareSolverr: FlareSolverrSettings{
			MaxTimeoutSeconds: 60,
		},
		MagnetInfo: MagnetInfoSettings{
			URL: "https://whatslink.info/api/v1/link",
		},
		Probe: ProbeSettings{
			IntervalMinutes: 30,
			RunOnStart:      true,
		},
		Download: DownloadSettings{
			StagingDir: filepath.Join(os.TempDir(), "magnetar-downloads"),
		},
		Log: LogConfig{
			File:       "magnetar.log",
			MaxSize:    20,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Scraper returns a pointer into the settings' scraper list, or nil.
func (s *Settings) Scraper(id string) *ScraperConfig {
	for i := range s.Scrapers {
		if s.Scrapers[i].ID == id {
			return &s.Scrapers[i]
		}
	}
	return nil
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk, creating the file with defaults when it
// does not exist. Scrapers added in newer versions are backfilled from the
// defaults table so an old settings file keeps working.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	changed := backfill(&s)
	if changed {
		if err := m.Save(s); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

func backfill(s *Settings) bool {
	changed := false
	defaults := DefaultSettings()

	if s.Server.Port == 0 {
		s.Server = defaults.Server
		changed = true
	}
	if s.MagnetInfo.URL == "" {
		s.MagnetInfo = defaults.MagnetInfo
		changed = true
	}
	if s.Probe.IntervalMinutes == 0 {
		s.Probe = defaults.Probe
		changed = true
	}
	if s.Download.StagingDir == "" {
		s.Download = defaults.Download
		changed = true
	}
	if s.FlareSolverr.MaxTimeoutSeconds == 0 {
		s.FlareSolverr.MaxTimeoutSeconds = defaults.FlareSolverr.MaxTimeoutSeconds
		changed = true
	}
	if s.Log.File == "" {
		s.Log = defaults.Log
		changed = true
	}

	for _, def := range defaultScraperConfigs() {
		if s.Scraper(def.ID) == nil {
			s.Scrapers = append(s.Scrapers, def)
			changed = true
		}
	}
	for i := range s.Scrapers {
		sc := &s.Scrapers[i]
		def, ok := DefaultScraperConfig(sc.ID)
		if !ok {
			continue
		}
		if sc.SiteURL == "" {
			sc.SiteURL = def.SiteURL
			changed = true
		}
		if sc.BatchConcurrency == 0 {
			sc.BatchConcurrency = def.BatchConcurrency
			changed = true
		}
		if sc.MaxLoadPages == 0 {
			sc.MaxLoadPages = def.MaxLoadPages
			changed = true
		}
		if sc.RateLimitCount == 0 {
			sc.RateLimitCount = def.RateLimitCount
			changed = true
		}
		if sc.RateLimitSeconds == 0 {
			sc.RateLimitSeconds = def.RateLimitSeconds
			changed = true
		}
	}
	return changed
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
