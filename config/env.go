package config

import (
	"strings"

	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/joho/godotenv"
)

var Env = Environment{}

type Environment struct {
	EnvName types.EnvName
}

func init() {
	godotenv.Load()
	Env.EnvName = ParseEnvName(utils.LoadEnvWithDefault("ENVIRONMENT", string(types.EnvLocal)))
}

func ParseEnvName(env string) types.EnvName {
	switch strings.ToLower(env) {
	case "prod", "production":
		return types.EnvProd
	case "dev", "staging":
		return types.EnvDev
	default:
		return types.EnvLocal
	}
}
