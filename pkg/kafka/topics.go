package kafka

import "fmt"

// TopicPrefix is the prefix shared by every topic this module publishes to.
const TopicPrefix = "reviews"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
