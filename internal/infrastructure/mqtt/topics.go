package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Resource events are published by this service; data-source health is
// published by the acquisition runtime and consumed here.
const (
	// TopicPrefix is the root of every topic.
	TopicPrefix = "graylogic"

	// TopicPrefixCore is the base for topics published by this service.
	TopicPrefixCore = "graylogic/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// TopicPrefixHealth is the base for runtime health topics.
	TopicPrefixHealth = "graylogic/health"
)

// Topics builds topic strings.
//
//	topic := mqtt.Topics{}.ResourceEvent("MBUS", "8c0e...")
//	// "graylogic/core/resource/MBUS/8c0e..."
type Topics struct{}

// SystemStatus returns the retained online/offline status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ResourceEvent returns the topic for one temporary resource's events.
//
// Example: graylogic/core/resource/MBUS/3f0c6d5e-5a36-4d0e-9d59-0c8d1f6b2a11
func (Topics) ResourceEvent(resourceType, id string) string {
	return fmt.Sprintf("%s/resource/%s/%s", TopicPrefixCore, resourceType, id)
}

// AllResourceEvents returns a pattern matching every event of one
// resource type, or of every type when resourceType is empty.
//
// Pattern: graylogic/core/resource/MBUS/+ or graylogic/core/resource/+/+
func (Topics) AllResourceEvents(resourceType string) string {
	if resourceType == "" {
		resourceType = "+"
	}
	return fmt.Sprintf("%s/resource/%s/+", TopicPrefixCore, resourceType)
}

// DataSourceHealth returns the health topic of one data source.
//
// Example: graylogic/health/datasource/DS_mbus_boiler
func (Topics) DataSourceHealth(xid string) string {
	return fmt.Sprintf("%s/datasource/%s", TopicPrefixHealth, xid)
}

// AllDataSourceHealth returns a pattern matching every data source's health.
//
// Pattern: graylogic/health/datasource/+
func (Topics) AllDataSourceHealth() string {
	return TopicPrefixHealth + "/datasource/+"
}

// DataSourceXID extracts the data-source XID from a health topic.
func DataSourceXID(topic string) (string, error) {
	prefix := TopicPrefixHealth + "/datasource/"
	xid, ok := strings.CutPrefix(topic, prefix)
	if !ok || xid == "" || strings.Contains(xid, "/") {
		return "", fmt.Errorf("%w: %q is not a data-source health topic", ErrInvalidTopic, topic)
	}
	return xid, nil
}
