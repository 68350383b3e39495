package devbackend

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadSeeds reads a YAML document of the form
//
//	tenants:
//	  - client_id: abc123
//	    welcome_message: Hi!
//
// Fields left out keep the tenant defaults.
func LoadSeeds(r io.Reader) ([]TenantConfig, error) {
	var doc struct {
		Tenants []yaml.Node `yaml:"tenants"`
	}
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "parse seed file")
	}

	ret := make([]TenantConfig, 0, len(doc.Tenants))
	for idx, node := range doc.Tenants {
		var id struct {
			ClientID string `yaml:"client_id"`
		}
		if err := node.Decode(&id); err != nil {
			return nil, errors.Wrapf(err, "tenant %d", idx)
		}
		cfg := NewTenantConfig(id.ClientID)
		if err := node.Decode(&cfg); err != nil {
			return nil, errors.Wrapf(err, "tenant %d", idx)
		}
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrapf(err, "tenant %d", idx)
		}
		ret = append(ret, cfg)
	}
	return ret, nil
}

func LoadSeedFile(path string) ([]TenantConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()
	return LoadSeeds(f)
}
