// Package logging provides the relayer's structured logging setup: field names,
// component names and zerolog construction.
package logging

// Field names shared by every component.
const (
	FieldComponent = "component"
	FieldInstance  = "instance"
	FieldReplica   = "replica"

	// Ledger identifiers
	FieldRequest   = "request"
	FieldUser      = "user"
	FieldProgram   = "program"
	FieldAccount   = "account"
	FieldSignature = "signature"
	FieldSlot      = "slot"
	FieldBlockhash = "blockhash"

	// Signer rotation
	FieldSigner       = "signer"
	FieldCandidate    = "candidate"
	FieldSignerStatus = "signer_status"
	FieldCID          = "cid"

	// Task pipeline
	FieldWorker    = "worker"
	FieldNumBytes  = "num_bytes"
	FieldBatchSize = "batch_size"
	FieldTaskKind  = "task_kind"
	FieldOutcome   = "outcome"

	FieldOperation = "operation"
	FieldReason    = "reason"
	FieldSource    = "source"
	FieldAddr      = "addr"
	FieldURL       = "url"
	FieldAttempt   = "attempt"
	FieldMaxRetry  = "max_retries"
	FieldRetryIn   = "retry_in"
	FieldDuration  = "duration"
	FieldCount     = "count"
	FieldErrorCode = "error_code"
)

// Component names used with ForComponent.
const (
	ComponentRelayService     = "relay_service"
	ComponentTaskQueue        = "task_queue"
	ComponentWorkerPool       = "worker_pool"
	ComponentResultStore      = "result_store"
	ComponentBatcher          = "batcher"
	ComponentSettlement       = "settlement_client"
	ComponentClassifier       = "error_classifier"
	ComponentSecureSigner     = "secure_signer"
	ComponentRotationRoutine  = "rotation_routine"
	ComponentWatcher          = "watcher"
	ComponentPubsub           = "pubsub_client"
	ComponentCheckpoint       = "checkpoint_tracker"
	ComponentLedger           = "ledger_client"
	ComponentEnclave          = "enclave"
	ComponentPublisher        = "ipfs_publisher"
	ComponentPayerProvider    = "payer_provider"
	ComponentLeaderElector    = "leader_elector"
	ComponentObservability    = "observability"
	ComponentRuntimeMetrics   = "runtime_metrics"
	ComponentServiceContext   = "service_context"
	ComponentReconciliation   = "reconciliation_scan"
	ComponentAccountPoller    = "account_poller"
	ComponentRedisHealth      = "redis_health_monitor"
)

// Replica roles reported by WithReplicaStatus.
const (
	ReplicaLeader  = "leader"
	ReplicaStandby = "standby"
)
