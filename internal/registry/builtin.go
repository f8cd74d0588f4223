package registry

import (
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

// qualifiedPrefix forms the fully qualified alias of each built-in adapter.
const qualifiedPrefix = "security."

// Builtins returns the factories for the bundled tools, keyed by short name.
func Builtins(deps services.Deps) map[string]Factory {
	return map[string]Factory{
		services.ClamAVName: func(s services.Settings) (services.Adapter, error) {
			return services.NewClamAV(s, deps), nil
		},
		services.Fail2banName: func(s services.Settings) (services.Adapter, error) {
			return services.NewFail2ban(s, deps), nil
		},
		services.FalcoName: func(s services.Settings) (services.Adapter, error) {
			return services.NewFalco(s, deps), nil
		},
		services.TrivyName: func(s services.Settings) (services.Adapter, error) {
			return services.NewTrivy(s, deps), nil
		},
		services.UFWName: func(s services.Settings) (services.Adapter, error) {
			return services.NewUFW(s, deps), nil
		},
	}
}

// BuiltinOrder is the registration order of the bundled tools.
var BuiltinOrder = []string{
	services.ClamAVName,
	services.Fail2banName,
	services.FalcoName,
	services.TrivyName,
	services.UFWName,
}

// NewDefault registers every bundled adapter under its short name and its
// "security."-qualified alias. Services absent from settings are disabled.
func NewDefault(deps services.Deps, settings map[string]services.Settings) *Registry {
	r := New()
	factories := Builtins(deps)
	for _, name := range BuiltinOrder {
		r.Register(name, factories[name], settings[name], qualifiedPrefix+name)
	}
	return r
}
