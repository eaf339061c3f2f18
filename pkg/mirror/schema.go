package mirror

import "fmt"

// Redis key pattern helpers
//
// Every key and Pub/Sub channel is namespaced by instance name so several
// forumtap sessions can share one Redis server.
//
// Key pattern: forumtap:{instance_name}:{entity}[:{id}]
// Channel pattern: forumtap:{instance_name}:{topic}

// RecordKey returns the Redis key for a record hash.
// Pattern: forumtap:{instance_name}:record:{record_id}
func RecordKey(instanceName, recordID string) string {
	return fmt.Sprintf("forumtap:%s:record:%s", instanceName, recordID)
}

// RecordAttachmentsKey returns the hash holding a record's attachment
// payloads, keyed by position in the ordered attachment list.
// Pattern: forumtap:{instance_name}:record:{record_id}:attachments
func RecordAttachmentsKey(instanceName, recordID string) string {
	return fmt.Sprintf("forumtap:%s:record:%s:attachments", instanceName, recordID)
}

// RecordIndexKey returns the ZSET of record ids scored by created_at_ms.
// Pattern: forumtap:{instance_name}:records
func RecordIndexKey(instanceName string) string {
	return fmt.Sprintf("forumtap:%s:records", instanceName)
}

// ArticleIndexKey returns the hash mapping server article id to record id.
// Only articles with a known id are indexed.
// Pattern: forumtap:{instance_name}:article_index
func ArticleIndexKey(instanceName string) string {
	return fmt.Sprintf("forumtap:%s:article_index", instanceName)
}

// RecordEventsChannel returns the Pub/Sub channel carrying saved records.
// Pattern: forumtap:{instance_name}:record_events
func RecordEventsChannel(instanceName string) string {
	return fmt.Sprintf("forumtap:%s:record_events", instanceName)
}

// MessagesChannel returns the Pub/Sub channel the browser extension posts
// its content-script messages to.
// Pattern: forumtap:{instance_name}:extension_messages
func MessagesChannel(instanceName string) string {
	return fmt.Sprintf("forumtap:%s:extension_messages", instanceName)
}
