// Package registry holds the known procurement-portal registry used by the
// portal search phase.
package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Portal is one procurement platform where agencies publish solicitations.
type Portal struct {
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
}

// DefaultPortals covers the platforms most US transit agencies publish on.
var DefaultPortals = []Portal{
	{Name: "Bonfire", Domain: "bonfirehub.com"},
	{Name: "BidNet Direct", Domain: "bidnetdirect.com"},
	{Name: "DemandStar", Domain: "demandstar.com"},
	{Name: "Public Purchase", Domain: "publicpurchase.com"},
	{Name: "PlanetBids", Domain: "planetbids.com"},
	{Name: "OpenGov Procurement", Domain: "procurement.opengov.com"},
	{Name: "SAM.gov", Domain: "sam.gov"},
}

type portalsFile struct {
	Portals []Portal `yaml:"portals"`
}

// LoadPortals reads a portal registry from a YAML file. An empty path or a
// missing file falls back to DefaultPortals; a malformed file is an error.
func LoadPortals(path string) ([]Portal, error) {
	if path == "" {
		return DefaultPortals, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Debug("registry: portals file missing, using defaults", zap.String("path", path))
			return DefaultPortals, nil
		}
		return nil, eris.Wrapf(err, "registry: read portals file %s", path)
	}

	var f portalsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "registry: parse portals file %s", path)
	}

	var portals []Portal
	for _, p := range f.Portals {
		if p.Domain == "" {
			zap.L().Warn("registry: skipping portal without domain", zap.String("name", p.Name))
			continue
		}
		portals = append(portals, p)
	}
	if len(portals) == 0 {
		return DefaultPortals, nil
	}
	return portals, nil
}
