package llms

import (
	"github.com/azraeltruthsay/gaia-sub000/pkg/registry"
)

func newProviderRegistry() *registry.BaseRegistry[Provider] {
	return registry.NewBaseRegistry[Provider]()
}
