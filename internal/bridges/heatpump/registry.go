package heatpump

import "fmt"

// Entry maps a name to the descriptor used to read it.
type Entry struct {
	Name       string
	Descriptor Descriptor
}

// Registry is an immutable, ordered name -> descriptor table.
//
// Iteration order is the order entries were given to NewRegistry; the
// poller publishes in this order.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry builds a registry, rejecting empty or duplicate names and
// invalid descriptors.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("registry entry with empty name")
		}
		if _, dup := r.index[e.Name]; dup {
			return nil, fmt.Errorf("duplicate registry entry %q", e.Name)
		}
		if err := e.Descriptor.Validate(); err != nil {
			return nil, fmt.Errorf("registry entry %q: %w", e.Name, err)
		}
		r.index[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// mustRegistry is used for the built-in tables, which are known valid.
func mustRegistry(entries []Entry) *Registry {
	r, err := NewRegistry(entries)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the descriptor for name, or ErrUnknownName.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return r.entries[i].Descriptor, nil
}

// Entries returns a copy of the entries in iteration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// DefaultValues returns the table of values polled every cycle, keyed by
// topic name relative to the topic prefix.
func DefaultValues() *Registry {
	return mustRegistry([]Entry{
		{Name: "house/actual_temp", Descriptor: Indexed(CommandTemperature, 0)},
		{Name: "house/sp_temp", Descriptor: Indexed(CommandParameter, 0)},
		{Name: "house/outdoor_temp", Descriptor: Indexed(CommandTemperature, 1)},
		{Name: "supply/temp", Descriptor: Indexed(CommandTemperature, 2)},
		{Name: "supply/min_temp", Descriptor: Indexed(CommandParameter, 3)},
		{Name: "supply/max_temp", Descriptor: Indexed(CommandParameter, 4)},
		{Name: "supply/valve", Descriptor: Indexed(CommandOutput, 0)},
		{Name: "supply/sp_temp", Descriptor: Indexed(CommandOutput, 1)},
		{Name: "tap_water/temp", Descriptor: Indexed(CommandTemperature, 3)},
		{Name: "accumulator/middle_temp", Descriptor: Indexed(CommandTemperature, 4)},
		{Name: "accumulator/bottom_temp", Descriptor: Indexed(CommandTemperature, 5)},
		{Name: "accumulator/top_temp", Descriptor: Indexed(CommandTemperature, 6)},
		{Name: "heatpump/status", Descriptor: Plain(CommandStatus)},
		{Name: "heatpump/brine_in_temp", Descriptor: Indexed(CommandTemperature, 7)},
		{Name: "heatpump/brine_out_temp", Descriptor: Indexed(CommandTemperature, 8)},
		{Name: "heatpump/return_temp", Descriptor: Indexed(CommandTemperature, 9)},
		{Name: "heatpump/supply_temp", Descriptor: Indexed(CommandTemperature, 10)},
		{Name: "heatpump/counter", Descriptor: Plain(CommandCounter)},
		{Name: "heatpump/error", Descriptor: Plain(CommandError)},
	})
}

// DefaultParameters returns the controller's configuration parameters p0-p17.
func DefaultParameters() *Registry {
	names := []string{
		"sp_temp",
		"supply_tc_k",
		"supply_tc_m",
		"supply_min_temp",
		"supply_max_temp",
		"house_temp_k",
		"tap_water_min_temp",
		"tap_water_max_temp",
		"accumulator_min_temp",
		"accumulator_max_temp",
		"brine_min_temp",
		"compressor_min_run",
		"compressor_min_stop",
		"valve_open_time",
		"valve_p_band",
		"valve_i_time",
		"outdoor_temp_delay",
		"legionella_interval",
	}
	entries := make([]Entry, len(names))
	for i, name := range names {
		entries[i] = Entry{Name: name, Descriptor: Indexed(CommandParameter, i)}
	}
	return mustRegistry(entries)
}
