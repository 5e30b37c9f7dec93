package models

// Environment declares that an environment exists for an object and carries
// every alias that currently resolves to it, including the canonical name.
type Environment struct {
	Name    string   `json:"name"`
	Env     string   `json:"environment"`
	Aliases []string `json:"aliases"`
}

// EnvironmentAlias maps an alias string to a canonical environment for one
// object. The canonical environment is always its own alias.
type EnvironmentAlias struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
	Env   string `json:"environment"`
}
