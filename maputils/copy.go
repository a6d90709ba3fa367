// Package maputils has small helpers for working with the
// map[string]interface{} document bodies the store client and merge loop
// pass around.
package maputils

// CopyMap returns a deep copy of m: every nested map[string]interface{} is
// itself copied, so mutating the result never aliases m. Used by the
// merge-upload loop to build a new document body from a remote one without
// risk of mutating the caller's or the store's copy.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		if vm, ok := v.(map[string]interface{}); ok {
			cp[k] = CopyMap(vm)
		} else {
			cp[k] = v
		}
	}

	return cp
}
