package config

import (
	"os"
	"strconv"
)

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "MYCELIUM_HOME",
		apply: func(c *Config, v string) {
			c.Home = v
		},
	},
	{
		envVar: "MYCELIUM_PROJECT",
		apply: func(c *Config, v string) {
			c.Project = v
		},
	},
	{
		envVar: "MYCELIUM_WORKER_CMD",
		apply: func(c *Config, v string) {
			c.Worker.Command = v
		},
	},
	{
		envVar: "MYCELIUM_MAX_PARALLEL",
		apply: func(c *Config, v string) {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.MaxParallel = n
			}
		},
	},
	{
		envVar: "MYCELIUM_MAIN_BRANCH",
		apply: func(c *Config, v string) {
			c.MainBranch = v
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
