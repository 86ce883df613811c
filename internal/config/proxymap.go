package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProxyMap describes how upstream WMS URLs relate to the proxies that wrap
// them. Wrappers are query-encoding prefixes ("https://corsproxy.io/?") the
// compositor strips to recover the upstream URL; Hosts maps upstream hosts to
// a local proxy path used when drawing through a same-origin proxy.
type ProxyMap struct {
	Wrappers []string          `yaml:"wrappers"`
	Hosts    map[string]string `yaml:"hosts"`
}

// DefaultProxyMap covers the wrapper the service validation path uses when a
// WMS endpoint does not allow cross-origin requests.
func DefaultProxyMap() ProxyMap {
	return ProxyMap{
		Wrappers: []string{"https://corsproxy.io/?"},
	}
}

// LoadProxyMap reads a proxy map from a YAML file, merged over the defaults.
// An empty path returns the defaults.
func LoadProxyMap(path string) (ProxyMap, error) {
	pm := DefaultProxyMap()
	if path == "" {
		return pm, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pm, fmt.Errorf("read proxy map %q: %w", path, err)
	}

	var loaded ProxyMap
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return pm, fmt.Errorf("parse proxy map %q: %w", path, err)
	}

	pm.Wrappers = append(pm.Wrappers, loaded.Wrappers...)
	if len(loaded.Hosts) > 0 {
		if pm.Hosts == nil {
			pm.Hosts = make(map[string]string, len(loaded.Hosts))
		}
		for host, prefix := range loaded.Hosts {
			pm.Hosts[host] = prefix
		}
	}
	return pm, nil
}
