package pool

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soltixdb/shardgate/internal/config"
)

// Preset sizes a connection pool
type Preset struct {
	Name     string `json:"name"`
	MaxTotal int    `json:"maxTotal"`
	MaxIdle  int    `json:"maxIdle"`
	MinIdle  int    `json:"minIdle"`
}

var presets = map[string]Preset{
	"small":  {Name: "small", MaxTotal: 5, MaxIdle: 5, MinIdle: 1},
	"medium": {Name: "medium", MaxTotal: 100, MaxIdle: 50, MinIdle: 5},
	"large":  {Name: "large", MaxTotal: 2000, MaxIdle: 200, MinIdle: 5},
}

// LookupPreset returns the named preset
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(presets))
		for n := range presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return Preset{}, fmt.Errorf("unknown pool profile %q (want one of %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// Options configures every handle a Dialer creates
type Options struct {
	Preset    Preset
	InitConns int
	Timeout   time.Duration // dial, read, write and pool wait
	Password  string
	DB        int
}

func DefaultOptions() Options {
	return Options{
		Preset:    presets["medium"],
		InitConns: 10,
		Timeout:   2 * time.Second,
	}
}

// OptionsFromConfig builds handle options from the pool section
func OptionsFromConfig(cfg config.PoolConfig) (Options, error) {
	preset, err := LookupPreset(cfg.Profile)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Preset:    preset,
		InitConns: cfg.InitConns,
		Timeout:   cfg.Timeout,
		Password:  cfg.Password,
		DB:        cfg.DB,
	}
	if opts.InitConns > preset.MaxTotal {
		opts.InitConns = preset.MaxTotal
	}
	return opts, nil
}
