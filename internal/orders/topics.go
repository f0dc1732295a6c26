package orders

const (
	TopicOrderSubmissions = "order.submissions"
	TopicOrderEvents      = "order.events"
	TopicFulfillmentTasks = "fulfillment.tasks"
)

// PartitionKey keeps every event of one order (or one seller's tasks) in order.
func PartitionKey(id string) []byte { return []byte(id) }
