package broker

import "strings"

// Well-known queue names. All share a common prefix and bind to the single
// direct exchange the adapter declares; a worker binds only the subset it
// serves.
const (
	DefaultQueue = "clarinet.default"
	GPUQueue     = "clarinet.gpu"
	DICOMQueue   = "clarinet.dicom"
	DLQQueue     = "clarinet.dead_letter"
)

// RoutingKey returns the routing key for a queue name: the substring after
// the last '.'. This is what a publisher uses to reach the queue through
// the shared direct exchange, and what the adapter binds the queue with at
// declaration time.
func RoutingKey(queue string) string {
	if i := strings.LastIndex(queue, "."); i >= 0 {
		return queue[i+1:]
	}
	return queue
}

// WorkerQueues returns the set of queues a worker should bind given its
// capability flags. The default queue is always included.
func WorkerQueues(haveGPU, haveDICOM bool) []string {
	queues := []string{DefaultQueue}
	if haveGPU {
		queues = append(queues, GPUQueue)
	}
	if haveDICOM {
		queues = append(queues, DICOMQueue)
	}
	return queues
}
