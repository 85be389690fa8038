package ionet

import "github.com/nodewarden/nodewarden/pkg/connector/registry"

func init() {
	registry.Register(networkName, registry.Descriptor{
		New:              New,
		SupportsScraping: true,
	})
}
