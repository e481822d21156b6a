package config

import "github.com/caarlos0/env/v11"

type Config struct {
	RelayURL     string            `env:"RELAY_URL,required,notEmpty"`
	GithubAPIURL string            `env:"GITHUB_API_URL"              envDefault:"https://api.github.com/"`
	GithubToken  string            `env:"GITHUB_TOKEN"`
	GistUser     string            `env:"GIST_USER,required,notEmpty"`
	GistIDs      map[string]string `env:"GIST_IDS,required,notEmpty"`
	Profile      string            `env:"PROFILE"                     envDefault:"default"`
	DBPath       string            `env:"DB_PATH"                     envDefault:"cache.sqlite"`
	ListenAddr   string            `env:"LISTEN_ADDR"                 envDefault:":8080"`
	NewestFirst  bool              `env:"NEWEST_FIRST"`
}

func LoadConfig() Config {
	var cfg Config
	env.Must(cfg, env.Parse(&cfg))
	return cfg
}

// GistID resolves the document id for the selected profile, falling back to
// any configured id so a single-entry setup needs no PROFILE variable.
func (c Config) GistID() string {
	if id, ok := c.GistIDs[c.Profile]; ok {
		return id
	}
	for _, id := range c.GistIDs {
		return id
	}
	return ""
}
