/*
Package config provides type-safe configuration extraction from map[string]any
and the typed Settings of a paperflow deployment.

# Map access

Config wraps the map decoded from YAML, JSON or viper and returns defaults for
missing keys and mismatched types:

	cfg, err := config.FromFile("paperflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	timeout := cfg.Duration("llm.timeout", 60*time.Second)
	retain := cfg.Sub("checkpoint").Int("retain", 0)

FromFile expands ${NAME} and ${NAME:-fallback} from the environment before
parsing, and Merge overlays several files section by section.

Keys may be dotted paths into nested sections. Numeric, boolean and list
values are also accepted in string form ("3", "true", "a,b"), since values
coming from environment variables are always strings.

# Settings

LoadSettings reads every section with defaults and validates the result with
go-playground/validator:

	settings, err := config.LoadSettings(cfg)
	if err != nil {
	    log.Fatal(err) // e.g. checkpoint.driver=redis without redis_addr
	}

# Thread Safety

Config is safe for concurrent reads. The underlying map must not be modified
after New.
*/
package config
