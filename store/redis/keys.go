package redis

// Redis key naming conventions for stepwise data.
// All keys are prefixed with "stepwise:" to avoid collisions.

const keyPrefix = "stepwise:"

// ── Workflow run keys ──

// runKey returns the key for a run's JSON value: stepwise:run:{key}
func runKey(key string) string { return keyPrefix + "run:" + key }

// runKeysKey is the Set tracking all run keys for enumeration.
const runKeysKey = keyPrefix + "run_keys"

// ── Checkpoint keys ──

// checkpointKey returns the key for a checkpoint hash:
// stepwise:checkpoint:{runKey}:{step}
func checkpointKey(runKey, step string) string {
	return keyPrefix + "checkpoint:" + runKey + ":" + step
}

// checkpointIndexKey returns the Set key tracking a run's checkpointed
// step names.
func checkpointIndexKey(runKey string) string {
	return keyPrefix + "checkpoint_idx:" + runKey
}

// checkpointSeqKey returns the counter assigning checkpoint order
// within a run.
func checkpointSeqKey(runKey string) string {
	return keyPrefix + "checkpoint_seq:" + runKey
}

// ── Event keys ──

// eventStreamKey returns the Sorted Set key for one (workflowKey, topic)
// stream, scored by sequence number.
func eventStreamKey(workflowKey, topic string) string {
	return keyPrefix + "events:" + workflowKey + ":" + topic
}

// eventSeqKey returns the counter assigning sequence numbers for one
// (workflowKey, topic) stream.
func eventSeqKey(workflowKey, topic string) string {
	return keyPrefix + "event_seq:" + workflowKey + ":" + topic
}

// eventTopicsKey returns the Set key tracking the topics a workflow key
// has events on; used when purging runs.
func eventTopicsKey(workflowKey string) string {
	return keyPrefix + "event_topics:" + workflowKey
}
