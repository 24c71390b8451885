package cache

import "fmt"

func HistoryKey(namespace string) string {
	return fmt.Sprintf("station:history:%s", namespace)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
