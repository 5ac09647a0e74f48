package mqtt

import "strings"

// Fixed topic segments.
const (
	// implementationSegment holds bridge metadata rather than device values.
	implementationSegment = "$implementation"

	// parameterSetPrefix and parameterSetSuffix frame inbound parameter-set requests:
	// heatpump/parameter/<name>/set
	parameterSetPrefix = "heatpump/parameter/"
	parameterSetSuffix = "/set"
)

// Topics builds heatpump-link topics under a common prefix.
//
// The prefix is prepended verbatim, so it normally ends with "/" or is empty:
//
//	topics := mqtt.Topics{Prefix: "home/"}
//	topics.Value("heatpump/counter") // "home/heatpump/counter"
type Topics struct {
	Prefix string
}

// Value returns the topic a polled value is published on.
//
// Example: house/actual_temp
func (t Topics) Value(name string) string {
	return t.Prefix + name
}

// ImplementationConfig returns the retained topic carrying the parameter snapshot.
//
// Example: $implementation/config
func (t Topics) ImplementationConfig() string {
	return t.Prefix + implementationSegment + "/config"
}

// ImplementationStatus returns the retained online/offline status topic (also the LWT).
//
// Example: $implementation/status
func (t Topics) ImplementationStatus() string {
	return t.Prefix + implementationSegment + "/status"
}

// ParameterSet returns the inbound set topic for one parameter.
//
// Example: heatpump/parameter/sp_temp/set
func (t Topics) ParameterSet(name string) string {
	return t.Prefix + parameterSetPrefix + name + parameterSetSuffix
}

// ParameterSetWildcard returns the subscription pattern for all parameter-set requests.
//
// Example: heatpump/parameter/+/set
func (t Topics) ParameterSetWildcard() string {
	return t.ParameterSet("+")
}

// ParseParameterSet extracts the parameter name from an inbound set topic.
// It returns false if the topic is not a parameter-set topic under this prefix.
func (t Topics) ParseParameterSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+parameterSetPrefix)
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, parameterSetSuffix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
