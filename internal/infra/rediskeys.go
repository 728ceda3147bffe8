package infra

const (
	// RedisNamespace isolates this service's keys in a shared Redis.
	RedisNamespace = "agentcore"
)

// Keys (state)
const (
	RedisKeyApprovalPrefix     = RedisNamespace + ":approval:"
	RedisKeyApprovalsPending   = RedisNamespace + ":approvals:pending_set"
	RedisKeyRateLimitPrefix    = RedisNamespace + ":ratelimit:"
	RedisKeyDisabledSkills     = RedisNamespace + ":skills:disabled_set"
	RedisKeyQuarantineCallers  = RedisNamespace + ":callers:quarantine_set"
	RedisKeyLockDisabledSkills = RedisNamespace + ":lock:warmup:disabled_skills"
	RedisKeyLockQuarantine     = RedisNamespace + ":lock:warmup:quarantine"
	RedisKeyChatPrefix         = RedisNamespace + ":chat:"
	RedisKeyMemoryPrefix       = RedisNamespace + ":memory:"
	RedisKeyAuditAll           = RedisNamespace + ":logs:all"
	RedisKeyAuditSkillPrefix   = RedisNamespace + ":logs:skill:"
	RedisKeyAuditStats         = RedisNamespace + ":stats:skills"
	RedisKeyHeartbeat          = RedisNamespace + ":heartbeat"
)

// Pub/Sub channels (events)
const (
	// RedisChanApprovalsPending carries every newly created approval request as JSON.
	RedisChanApprovalsPending = RedisNamespace + ":approvals:pending"
	// RedisChanApprovalResolved is the per-request wake-up prefix, see ApprovalResolvedChannel.
	RedisChanApprovalResolved = RedisNamespace + ":approvals:resolved:"
	RedisChanKillSwitch       = RedisNamespace + ":skills:kill-switch-signal"
	RedisChanQuarantine       = RedisNamespace + ":callers:quarantine-signal"
	RedisChanPolicyUpdate     = RedisNamespace + ":policy:update"
	RedisChanNotifications    = RedisNamespace + ":notifications"
)

func ApprovalKey(id string) string { return RedisKeyApprovalPrefix + id }

func ApprovalResolvedChannel(id string) string { return RedisChanApprovalResolved + id }

func RateLimitKey(key string) string { return RedisKeyRateLimitPrefix + key }

func ChatHistoryKey(userID string) string { return RedisKeyChatPrefix + userID }

func MemoryKey(userID string) string { return RedisKeyMemoryPrefix + userID }

func AuditSkillKey(skill string) string { return RedisKeyAuditSkillPrefix + skill }
