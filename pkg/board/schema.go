package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several boards can share one Redis server.
//
// Key pattern: taskboard:{instance_name}:{entity}[:{id}]
// Channel pattern: taskboard:{instance_name}:{event_type}_events

// MessageSeqKey returns the Redis key of the message id counter.
// Pattern: taskboard:{instance_name}:message_seq
func MessageSeqKey(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:message_seq", instanceName)
}

// MessageKey returns the Redis key for a message hash.
// Pattern: taskboard:{instance_name}:message:{id}
func MessageKey(instanceName string, id int64) string {
	return fmt.Sprintf("taskboard:%s:message:%d", instanceName, id)
}

// ActiveKey returns the Redis key of the ZSET of active message ids (score = id).
// Pattern: taskboard:{instance_name}:messages:active
func ActiveKey(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:messages:active", instanceName)
}

// ArchivedKey returns the Redis key of the ZSET of archived message ids (score = id).
// Pattern: taskboard:{instance_name}:messages:archived
func ArchivedKey(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:messages:archived", instanceName)
}

// InboxKey returns the Redis key of the ZSET of active message ids addressed to an agent.
// Pattern: taskboard:{instance_name}:inbox:{agent_id}
func InboxKey(instanceName, agentID string) string {
	return inboxPrefix(instanceName) + agentID
}

// OutboxKey returns the Redis key of the ZSET of active message ids posted by an agent.
// Pattern: taskboard:{instance_name}:outbox:{agent_id}
func OutboxKey(instanceName, agentID string) string {
	return outboxPrefix(instanceName) + agentID
}

// MessageEventsChannel returns the Pub/Sub channel that receives every posted message.
// Pattern: taskboard:{instance_name}:message_events
func MessageEventsChannel(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:message_events", instanceName)
}

// AgentKey returns the Redis key for a persisted agent snapshot.
// Pattern: taskboard:{instance_name}:agent:{agent_id}
func AgentKey(instanceName, agentID string) string {
	return fmt.Sprintf("taskboard:%s:agent:%s", instanceName, agentID)
}

// AgentsKey returns the Redis key of the ZSET of known agent ids (score = first save time).
// Pattern: taskboard:{instance_name}:agents
func AgentsKey(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:agents", instanceName)
}

func inboxPrefix(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:inbox:", instanceName)
}

func outboxPrefix(instanceName string) string {
	return fmt.Sprintf("taskboard:%s:outbox:", instanceName)
}
