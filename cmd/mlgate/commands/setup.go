package commands

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mlgate/mlgate/pkg/policy"
)

func newLoaderFromFlags() *policy.Loader {
	return policy.NewLoader(log.Logger)
}

// buildRegistry loads and compiles the policy set from the global flags.
func buildRegistry() (*policy.Registry, error) {
	return newLoaderFromFlags().LoadRegistry(policyPaths, !noBuiltins)
}

// buildEngine compiles the policy set and wraps it in an engine.
func buildEngine() (*policy.Engine, error) {
	reg, err := buildRegistry()
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(reg, log.Logger), nil
}

func applyVerbosity() {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
