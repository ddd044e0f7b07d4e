package protocol

// On-disk layout under the messenger base directory. Every component shares
// this one directory; no state crosses agent boundaries any other way.
const (
	// RegistryDir holds one <name>.json registration per live agent.
	RegistryDir = "registry"

	// InboxDir holds one subdirectory per agent; each message is one file.
	InboxDir = "inbox"

	// FeedFile is the append-only newline-delimited JSON activity feed.
	FeedFile = "feed.jsonl"

	// ClaimsFile maps (spec path, task id) to the claiming agent.
	ClaimsFile = "claims.json"

	// CompletionsFile maps (spec path, task id) to the completion record.
	CompletionsFile = "completions.json"

	// SwarmLockFile serializes all claims/completions mutations.
	SwarmLockFile = "swarm.lock"

	// HistoryDir holds per-agent local SQLite archives.
	HistoryDir = "history"
)

// BaseSubdir is the default messenger base directory relative to the user's
// home directory.
const BaseSubdir = ".pi/agent/messenger"

// CrewSubdir is the per-project crew directory relative to the working
// directory.
const CrewSubdir = ".pi/messenger/crew"

// ProjectConfigSubdir is the per-project messenger config directory.
const ProjectConfigSubdir = ".pi/messenger"

// EnvAgentName requests a specific agent name at join time.
const EnvAgentName = "PI_AGENT_NAME"

// EnvHome overrides the messenger base directory.
const EnvHome = "PI_MESSENGER_HOME"
