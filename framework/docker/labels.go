package docker

// ManagedLabel tags every container created through a Runtime so leftovers of
// a crashed devnet can be told apart from the user's own containers.
const ManagedLabel = "io.spinarch.managed"

// managedLabels returns labels plus the managed label, without modifying labels.
func managedLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[ManagedLabel] = "true"
	return out
}
