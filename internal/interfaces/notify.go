package interfaces

// NotifyAction is the mutation verb carried on a notification.
type NotifyAction string

const (
	ActionBulkCreate NotifyAction = "bulk-create"
	ActionBulkUpdate NotifyAction = "bulk-update"
	ActionBulkDelete NotifyAction = "bulk-delete"
)

// NotifyEntity names the collection a notification refers to.
type NotifyEntity string

const (
	EntitySite     NotifyEntity = "site"
	EntityApp      NotifyEntity = "app"
	EntityBatchJob NotifyEntity = "batch_job"
	EntityJob      NotifyEntity = "job"
	EntityEvent    NotifyEntity = "event"
	EntityTransfer NotifyEntity = "transfer-item"
)

// Notification is one best-effort mutation record fanned out to subscribers
// of the owning user.
type Notification struct {
	OwnerID uint64       `json:"-"`
	Action  NotifyAction `json:"action"`
	Entity  NotifyEntity `json:"entity"`
	Payload interface{}  `json:"payload"`
}

// Notifier is the in-process pub/sub bus. Publish never blocks: subscribers
// that fall behind are dropped.
type Notifier interface {
	Publish(ownerID uint64, action NotifyAction, entity NotifyEntity, payload interface{})
	Subscribe(ownerID uint64) (<-chan Notification, func())
	Close()
}
