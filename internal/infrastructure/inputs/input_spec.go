package inputs

// Spec describes a source instance to be created dynamically.
type Spec struct {
	Type   string
	Name   string
	Config Config
}

// ConfigWithName returns a copy of Config with name set.
func (s Spec) ConfigWithName() Config {
	cfg := make(Config, len(s.Config)+1)
	for k, v := range s.Config {
		cfg[k] = v
	}
	if s.Name != "" {
		cfg["name"] = s.Name
	}
	return cfg
}
