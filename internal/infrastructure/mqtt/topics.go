package mqtt

import "strings"

// TopicPrefix is the root of every topic the service publishes or reads.
//
// Layout:
//
//	graylogic/resgraph/status              retained service status (LWT)
//	graylogic/resgraph/value/{path}        outbound resource values
//	graylogic/resgraph/set/{path}          inbound value writes
//	graylogic/resgraph/pattern/{name}      pattern availability events
const TopicPrefix = "graylogic/resgraph"

// Topics builds topic names. Resource paths keep their "/" separators, so a
// path maps onto a topic subtree.
type Topics struct{}

// ServiceStatus is the retained online/offline topic.
func (Topics) ServiceStatus() string {
	return TopicPrefix + "/status"
}

// ResourceValue is the default outbound topic for a resource path.
func (Topics) ResourceValue(path string) string {
	return TopicPrefix + "/value/" + path
}

// ResourceSet is the default inbound topic for a resource path.
func (Topics) ResourceSet(path string) string {
	return TopicPrefix + "/set/" + path
}

// PatternEvent is the topic for a pattern's availability events.
func (Topics) PatternEvent(pattern string) string {
	return TopicPrefix + "/pattern/" + pattern
}

// AllResourceSets matches every inbound write topic.
func (Topics) AllResourceSets() string {
	return TopicPrefix + "/set/#"
}

// PathFromSetTopic returns the resource path of an inbound write topic.
func (Topics) PathFromSetTopic(topic string) (string, bool) {
	path, ok := strings.CutPrefix(topic, TopicPrefix+"/set/")
	if !ok || path == "" {
		return "", false
	}
	return path, true
}
