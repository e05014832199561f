package constants

// Operation statuses
const (
	// OperationStatusFailed indicates that the operation has failed
	OperationStatusFailed = "failed"
	// OperationStatusSuccess indicates that the operation was successful
	OperationStatusSuccess = "success"
	// OperationStatusPending indicates that the operation is waiting to run
	OperationStatusPending = "pending"
	// OperationStatusInProgress indicates that the operation is currently running
	OperationStatusInProgress = "in_progress"
)

// Recorded actions
const (
	ActionUninstall = "uninstall"
	ActionReinstall = "reinstall"
	ActionRestore   = "restore"
	ActionBackup    = "backup"
)

// StatusAlive is the heartbeat status of a running agent.
const StatusAlive = "alive"

// Actions accepted on the MQTT command topic.
const (
	RemoteListPackages   = "list_packages"
	RemoteStreamPackages = "stream_packages"
	RemoteUninstall      = "uninstall"
	RemoteReinstall      = "reinstall"
	RemoteHealth         = "health"
	RemoteCreateBackup   = "create_backup"
	RemoteListBackups    = "list_backups"
	RemoteRestoreBackup  = "restore_backup"
	RemoteImportBackup   = "import_backup"
)

// Defaults for the MQTT-facing services.
const (
	DefaultMaxExecutionTime  = 120 // seconds
	DefaultHeartbeatInterval = 30  // seconds
	CommandTopicSuffix       = "commands"
	HeartbeatTopicSuffix     = "heartbeat"
)
