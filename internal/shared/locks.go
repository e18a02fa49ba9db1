package shared

import "fmt"

// PresenceScanKey builds the singleflight key serialising presence passes per subnet.
func PresenceScanKey(subnet string) string {
	return fmt.Sprintf("presence:scan:%s", subnet)
}
